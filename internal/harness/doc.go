// Package harness runs YAML conformance scenarios against the real server
// wiring: a fresh SQLite log, the concepts, a rule set and the sync engine.
//
// A scenario is a list of steps. A request step submits Requesting.request
// with a path and body and waits for the rule that answers it, exactly as
// an HTTP call would. An invoke step dispatches one action directly. After
// every step the harness waits until the flow is quiet, so side effects of
// rules that fire after the response are visible to the next step.
//
// Values in request bodies, invoke args and expectations may reference
// earlier results: a string "$name" is replaced by the value saved under
// name by a step's save clause.
//
//	name: register_and_login
//	description: a registered user can authenticate
//	flow:
//	  - request: /PasswordAuthentication/register
//	    body: {username: ada, password: password1}
//	    save: {user: user}
//	  - request: /PasswordAuthentication/authenticate
//	    body: {username: ada, password: password1}
//	    expect:
//	      response: {user: $user}
//	assertions:
//	  - type: trace_order
//	    actions: [PasswordAuthentication.register, Sessioning.start]
//
// Every run uses sequential ids, a stepping clock and sequential flow
// tokens, so the trace of a scenario is identical across runs and can be
// compared against a golden file.
package harness
