// Package health turns reported call outcomes into key state changes.
//
// Classification maps an arbitrary error to one of four classes, preferring
// a structured status code when the error carries one and falling back to
// message text:
//
//   - AUTH: 400, 401, 403, the credential itself is bad
//   - RATE_LIMITED: 429, the key is throttled rather than broken
//   - SERVER: 5xx, upstream trouble
//   - UNCLASSIFIED: everything else
//
// The Monitor applies the class to a key record:
//
//   - success: weight recovers by 10%, capped at the configured weight;
//     a degraded key returns to available after three consecutive successes
//   - AUTH: weight drops to zero and the key becomes unavailable, a
//     terminal state that only an explicit reset leaves
//   - RATE_LIMITED: weight shrinks by 20%, an available key degrades
//   - SERVER and UNCLASSIFIED: weight shrinks by 10%, an available key
//     degrades
//
// Weights have no lower floor; only an auth failure zeroes one. An
// unavailable key keeps tracking counters and timestamps but its weight
// and status stay frozen.
package health
