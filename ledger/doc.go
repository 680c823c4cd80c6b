// Package ledger keeps job execution and user balances in agreement.
//
// A [Ledger] is the balance store: postgres, sqlite and memory
// implementations live in sub-packages. The [Coordinator] runs the
// protocol around each generation attempt:
//
//   - [Coordinator.Debit] charges the estimated cost strictly before the
//     generation call, failing with genqueue.ErrInsufficientBalance when
//     the user cannot pay.
//   - [Coordinator.Refund] credits the same amount back when the attempt
//     fails, times out or is cancelled. Refund errors are logged and never
//     returned.
//
// Cost is estimated from the prompt alone, once, before the debit:
//
//	tokens = ceil(runes(prompt) / 4)
//	bricks = max(1, ceil(tokens / tokensPerBrick))
//
// It is not re-estimated after generation.
package ledger
