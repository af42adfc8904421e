package dimse

// Counts returns the sub-operation progress counters of a C-GET response.
func (v *CGetRsp) Counts() SubOperationCounts {
	return SubOperationCounts{
		Remaining: v.NumberOfRemainingSuboperations,
		Completed: v.NumberOfCompletedSuboperations,
		Failed:    v.NumberOfFailedSuboperations,
		Warning:   v.NumberOfWarningSuboperations,
	}
}

// Counts returns the sub-operation progress counters of a C-MOVE response.
func (v *CMoveRsp) Counts() SubOperationCounts {
	return SubOperationCounts{
		Remaining: v.NumberOfRemainingSuboperations,
		Completed: v.NumberOfCompletedSuboperations,
		Failed:    v.NumberOfFailedSuboperations,
		Warning:   v.NumberOfWarningSuboperations,
	}
}
