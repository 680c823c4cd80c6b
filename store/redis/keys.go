package redis

// Redis key naming conventions. Every key lives under
// "genqueue:{namespace}:" so several queues can share one Redis database
// without touching unrelated application state.

const keyPrefix = "genqueue:"

// recordKey returns the Hash key for a job record: genqueue:{ns}:job:{id}
func recordKey(ns, jobID string) string { return keyPrefix + ns + ":job:" + jobID }

// laneKey returns the List key for an ordering lane: genqueue:{ns}:lane:{lane}
func laneKey(ns, lane string) string { return keyPrefix + ns + ":lane:" + lane }

// activeKey returns the Set key tracking non-terminal job IDs.
func activeKey(ns string) string { return keyPrefix + ns + ":active" }

// workerKey returns the String key holding a worker registration.
func workerKey(ns, workerID string) string { return keyPrefix + ns + ":worker:" + workerID }

// workersKey returns the Set key indexing registered worker IDs.
func workersKey(ns string) string { return keyPrefix + ns + ":workers" }

// leaderKey returns the String key holding the leader's worker ID.
func leaderKey(ns string) string { return keyPrefix + ns + ":leader" }
