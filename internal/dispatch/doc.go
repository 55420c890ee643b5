// Package dispatch is the command dispatcher at the heart of the bridge.
//
// A caller hands the dispatcher a command name and an argument map (the shape the
// application layer speaks). The dispatcher converts that once into a typed Command,
// routes it to the matching handler and always returns exactly one Result:
//
//   - sendSms    → checks SEND_SMS, hands (destination, body) to the MessageSender
//   - callNumber → checks CALL_PHONE, hands a call Intent to the ActionLauncher
//   - anything else → the not-implemented marker, no handler runs
//
// Outcome mapping:
//   - missing or mistyped argument → ARG_ERROR, before any side effect
//   - permission not granted → PERMISSION_DENIED
//   - sender error, or a failed SEND_SMS query → SMS_ERROR with the error's message
//   - launcher error, or a failed CALL_PHONE query → CALL_ERROR with the error's message
//   - normal return → success with value true
//
// Success means the platform accepted the request (message queued, dialer handed the
// intent). Delivery and call connection are never observed. Nothing is retried here.
//
// The dispatcher holds no mutable state, so concurrent calls need no locking. Platform
// access is injected through the PermissionChecker, MessageSender and ActionLauncher
// ports; Observers see every resolution after the fact.
package dispatch
