package iname

// unlockedForms maps each lock-prefixed form to the form of the same
// operation without the prefix. It is built once and never modified.
var unlockedForms = buildUnlockedForms()

func buildUnlockedForms() map[string]string {
	type width struct{ mem, gpr string }
	scalable := []width{{"w", "16"}, {"d", "32"}, {"q", "64"}}

	shapes := make(map[string][]string)

	for _, op := range []string{"ADC", "ADD", "AND", "OR", "SBB", "SUB", "XOR"} {
		s := []string{"MEMb_IMMb", "MEMb_GPR8"}
		for _, w := range scalable {
			s = append(s, "MEM"+w.mem+"_IMMb", "MEM"+w.mem+"_IMMz", "MEM"+w.mem+"_GPR"+w.gpr)
		}
		shapes[op] = s
	}
	for _, op := range []string{"DEC", "INC", "NEG", "NOT"} {
		s := []string{"MEMb"}
		for _, w := range scalable {
			s = append(s, "MEM"+w.mem)
		}
		shapes[op] = s
	}
	for _, op := range []string{"BTC", "BTR", "BTS"} {
		var s []string
		for _, w := range scalable {
			s = append(s, "MEM"+w.mem+"_IMMb", "MEM"+w.mem+"_GPR"+w.gpr)
		}
		shapes[op] = s
	}
	for _, op := range []string{"CMPXCHG", "XADD", "XCHG"} {
		s := []string{"MEMb_GPR8"}
		for _, w := range scalable {
			s = append(s, "MEM"+w.mem+"_GPR"+w.gpr)
		}
		shapes[op] = s
	}
	shapes["CMPXCHG8B"] = []string{"MEMq"}
	shapes["CMPXCHG16B"] = []string{"MEMdq"}

	m := make(map[string]string)
	for op, ss := range shapes {
		for _, s := range ss {
			m[op+"_LOCK_"+s] = op + "_" + s
		}
	}
	return m
}

// Canonical returns the name deduplicated by the cache. Locked forms map to
// their unlocked equivalent; a locked form outside the table keeps its name.
func Canonical(in Instruction) string {
	if !in.Locked {
		return in.Form
	}
	if f, ok := unlockedForms[in.Form]; ok {
		return f
	}
	return in.Form
}
