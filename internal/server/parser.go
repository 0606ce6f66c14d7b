package server

import "strings"

// ParseLine splits a raw client line into its tag, upper-cased command verb
// and positional arguments. ok is false when fewer than two tokens are
// present, which the caller answers with an untagged BAD.
//
// The quoting model is minimal: an argument wrapped in one pair of double
// quotes has the quotes stripped. Literal ({n}) arguments and escaped
// interior quotes are not supported.
func ParseLine(line string) (tag, verb string, args []string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", "", nil, false
	}

	tag = fields[0]
	verb = strings.ToUpper(fields[1])
	args = fields[2:]
	for i, arg := range args {
		args[i] = unquote(arg)
	}
	return tag, verb, args, true
}

func unquote(arg string) string {
	if len(arg) >= 2 && arg[0] == '"' && arg[len(arg)-1] == '"' {
		return arg[1 : len(arg)-1]
	}
	return arg
}
