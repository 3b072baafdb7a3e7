package channel

// Topic layout for one computation. The run name namespaces every topic so
// unrelated computations can share a transport.

func StateTopic(run, name string) string { return run + ".state." + name }

func ReportTopic(run, spoke string) string { return run + ".report." + spoke }

func TerminateTopic(run string) string { return run + ".terminate" }

// Conventional state channel names published by the hub.
const (
	StateWeights   = "w"
	StateConsensus = "xbar"
)
