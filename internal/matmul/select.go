package matmul

// SelectInfo returns best when it passes a dry-run validation for the exact
// shape and data type and the RHS padding is not locked; otherwise it
// returns fallback. Exporting the RHS to an image needs padding changes,
// which a locked RHS forbids.
//
// fallback must not request image export and both candidates must carry the
// same adjoint flags; violating either panics.
func SelectInfo(best, fallback KernelInfo, s Shape, dt DataType, rhsLockPadding bool, limits ImageLimits) KernelInfo {
	if fallback.ExportRHSToImage {
		panic(&PreconditionError{Op: "SelectInfo", Reason: "the fallback configuration cannot export the rhs to an image"})
	}
	if best.AdjLHS != fallback.AdjLHS || best.AdjRHS != fallback.AdjRHS {
		panic(&PreconditionError{Op: "SelectInfo", Reason: "candidate configurations must have the same adjoint flags"})
	}
	if rhsLockPadding {
		return fallback
	}

	lhs, rhs := Operands(s, dt, best.AdjLHS, best.AdjRHS)
	if _, err := Validate(lhs, rhs, best, limits); err != nil {
		return fallback
	}
	return best
}
