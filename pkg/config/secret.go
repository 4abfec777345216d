package config

// Mask is the sentinel rendered in place of secret values.
const Mask = "***"

// Secret is a credential value that never leaks through formatting.
// fmt, %v, %s, JSON and text marshaling all produce the mask; the real
// value is only reachable through Unmask.
type Secret string

// String implements fmt.Stringer and returns the mask.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return Mask
}

// Unmask returns the underlying value.
func (s Secret) Unmask() string { return string(s) }

// IsZero reports whether the secret is unset.
func (s Secret) IsZero() bool { return s == "" }

// MarshalText renders the mask so that serialized configuration never
// contains the credential.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the raw value. A masked value round-trips as the
// mask itself and is resolved by Merge.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}

// Merge resolves an incoming secret field against the stored one.
// An incoming mask sentinel or empty value means "unchanged" and keeps
// the existing secret; anything else replaces it. This is the single
// place masked round-trips are handled, instead of sentinel string
// comparisons scattered through handlers.
func Merge(existing, incoming Secret) Secret {
	if incoming == "" || incoming == Mask {
		return existing
	}
	return incoming
}
