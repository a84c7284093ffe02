package attestation

// Score reduces findings to a verdict and score. Only the count matters:
//
//	0 findings  -> ALLOW, 100
//	1-2         -> WARN,  70
//	3 or more   -> BLOCK, 20
func Score(findings []ComplianceFinding) (Verdict, int) {
	switch n := len(findings); {
	case n == 0:
		return VerdictAllow, 100
	case n < 3:
		return VerdictWarn, 70
	default:
		return VerdictBlock, 20
	}
}
