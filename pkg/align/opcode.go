package align

// Opcodes derives the edit script from matching blocks as returned by
// [MatchingBlocks]. The gap before each block becomes a replace, delete or
// insert depending on which side is non-empty; every non-empty block then
// becomes an equal step. Adjacent steps with the same tag and touching
// spans are merged into one.
func Opcodes(blocks []Match) []Opcode {
	var (
		ops  []Opcode
		i, j int
	)
	for _, m := range blocks {
		switch {
		case i < m.A && j < m.B:
			ops = appendOpcode(ops, Opcode{Tag: Replace, I1: i, I2: m.A, J1: j, J2: m.B})
		case i < m.A:
			ops = appendOpcode(ops, Opcode{Tag: Delete, I1: i, I2: m.A, J1: j, J2: j})
		case j < m.B:
			ops = appendOpcode(ops, Opcode{Tag: Insert, I1: i, I2: i, J1: j, J2: m.B})
		}
		i, j = m.A+m.Size, m.B+m.Size
		if m.Size > 0 {
			ops = appendOpcode(ops, Opcode{Tag: Equal, I1: m.A, I2: i, J1: m.B, J2: j})
		}
	}
	if ops == nil {
		return []Opcode{}
	}
	return ops
}

// appendOpcode appends op to ops, extending the last entry instead when both
// carry the same tag and are contiguous in a and b.
func appendOpcode(ops []Opcode, op Opcode) []Opcode {
	if n := len(ops); n > 0 {
		last := &ops[n-1]
		if last.Tag == op.Tag && last.I2 == op.I1 && last.J2 == op.J1 {
			last.I2 = op.I2
			last.J2 = op.J2
			return ops
		}
	}
	return append(ops, op)
}
