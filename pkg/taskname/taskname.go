package taskname

const (
	// Review lifecycle tasks
	ReviewExpirySweep   = "review:expiry:sweep"
	ReviewMonitorDetect = "review:monitor:detect"

	// Ledger tasks
	LedgerVerifyChain = "ledger:verify:chain"
)
