// Command genqueue runs the generation worker and provides producer and
// admin commands against the same queue and ledger.
//
//	genqueue worker                      # run until SIGINT/SIGTERM
//	genqueue enqueue --user usr_1 "a haiku about queues"
//	genqueue status job_01h...
//	genqueue credit usr_1 100
//
// Configuration comes from GENQUEUE_* environment variables and an
// optional .env file; see internal/config.
package main

import (
	"context"
	"os"
)

func main() {
	a := &app{}
	err := newRootCmd(a).ExecuteContext(context.Background())
	a.close()
	if err != nil {
		os.Exit(1)
	}
}
