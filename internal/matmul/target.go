package matmul

import (
	"fmt"
	"strings"
)

type Arch int

const (
	Midgard Arch = iota
	Bifrost
	Valhall
)

func (a Arch) String() string {
	switch a {
	case Midgard:
		return "midgard"
	case Bifrost:
		return "bifrost"
	case Valhall:
		return "valhall"
	default:
		return "unknown"
	}
}

// GPUTarget is a Mali GPU model.
type GPUTarget int

const (
	T600 GPUTarget = iota
	T700
	T800
	G71
	G72
	G51
	G52
	G76
	G77
	G57
	G68
	G78
	G710
	G610
	G510
	G310
	G715
	G615
)

var targets = []struct {
	target GPUTarget
	name   string
	arch   Arch
}{
	{T600, "t600", Midgard},
	{T700, "t700", Midgard},
	{T800, "t800", Midgard},
	{G71, "g71", Bifrost},
	{G72, "g72", Bifrost},
	{G51, "g51", Bifrost},
	{G52, "g52", Bifrost},
	{G76, "g76", Bifrost},
	{G77, "g77", Valhall},
	{G57, "g57", Valhall},
	{G68, "g68", Valhall},
	{G78, "g78", Valhall},
	{G710, "g710", Valhall},
	{G610, "g610", Valhall},
	{G510, "g510", Valhall},
	{G310, "g310", Valhall},
	{G715, "g715", Valhall},
	{G615, "g615", Valhall},
}

func (t GPUTarget) String() string {
	for _, e := range targets {
		if e.target == t {
			return e.name
		}
	}
	return fmt.Sprintf("GPUTarget(%d)", int(t))
}

func (t GPUTarget) Arch() Arch {
	for _, e := range targets {
		if e.target == t {
			return e.arch
		}
	}
	return Valhall
}

// ParseTarget accepts "g710", "G710" or "Mali-G710".
func ParseTarget(s string) (GPUTarget, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, "mali-")
	for _, e := range targets {
		if e.name == name {
			return e.target, nil
		}
	}
	return 0, fmt.Errorf("unknown gpu target %q", s)
}

func (t GPUTarget) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *GPUTarget) UnmarshalText(b []byte) error {
	v, err := ParseTarget(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
