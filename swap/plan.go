package swap

// PlanRequest carries the inputs the plan builder needs. Feature flags mirror
// the swap-creation request.
type PlanRequest struct {
	AtomicGuarantees bool
	LimitOrders      bool
	RequiresApproval bool
}

// BuildPlan constructs the ordered execution plan for a cross-chain swap.
// Ordering is fixed per direction: the target-chain claim can never precede
// the source-chain lock, because executing the claim reveals the secret.
func BuildPlan(req PlanRequest) []Step {
	steps := make([]Step, 0, 7)
	add := func(kind StepKind, on StepChain) {
		steps = append(steps, Step{Index: len(steps), Kind: kind, Chain: on, Status: StepStatusPending})
	}

	add(StepWalletVerification, StepChainBoth)
	if req.RequiresApproval {
		add(StepTokenApproval, StepChainSource)
	}
	if req.LimitOrders {
		add(StepLimitOrderSetup, StepChainBoth)
	}
	add(StepSourceLock, StepChainSource)
	if req.AtomicGuarantees {
		add(StepRelay, StepChainSource)
	}
	add(StepTargetClaim, StepChainTarget)
	if req.AtomicGuarantees {
		add(StepCrossVerification, StepChainBoth)
	}
	return steps
}

// planIndexOf returns the index of the first step of the given kind, or -1.
func planIndexOf(plan []Step, kind StepKind) int {
	for i := range plan {
		if plan[i].Kind == kind {
			return i
		}
	}
	return -1
}
