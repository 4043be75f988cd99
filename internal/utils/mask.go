package utils

// MaskSecret keeps a short prefix of a token so log lines stay correlatable without leaking it.
func MaskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "*****"
	default:
		return s[:4] + "*****"
	}
}
