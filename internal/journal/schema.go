package journal

// schema declares the extensional facts the agent emits and the rules that
// summarize them.
const schema = `
Decl action_result(Op, Target, Strategy, Outcome).
Decl snapshot_taken(Version, URL, Count).
Decl navigated(URL).

Decl exhausted_target(Op, Target).
Decl stale_target(Target).
Decl recovered_target(Op, Target).
Decl flaky_target(Op, Target).
Decl empty_snapshot(Version, URL).

exhausted_target(Op, Target) :- action_result(Op, Target, _, "exhausted").

stale_target(Target) :- action_result(_, Target, _, "stale").

recovered_target(Op, Target) :-
    action_result(Op, Target, Strategy, "ok"),
    Strategy != "primary".

flaky_target(Op, Target) :-
    action_result(Op, Target, _, "failed"),
    action_result(Op, Target, _, "ok").

empty_snapshot(Version, URL) :- snapshot_taken(Version, URL, 0).
`

// Derived predicates reported in summaries.
const (
	PredExhausted     = "exhausted_target"
	PredStale         = "stale_target"
	PredRecovered     = "recovered_target"
	PredFlaky         = "flaky_target"
	PredEmptySnapshot = "empty_snapshot"
)
