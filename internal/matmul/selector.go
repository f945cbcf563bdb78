package matmul

import "fmt"

// Problem is one configure request.
type Problem struct {
	Shape          `yaml:",inline"`
	DataType       DataType `json:"data_type" yaml:"data_type"`
	AdjLHS         bool     `json:"adj_lhs" yaml:"adj_lhs"`
	AdjRHS         bool     `json:"adj_rhs" yaml:"adj_rhs"`
	RHSLockPadding bool     `json:"rhs_lock_padding" yaml:"rhs_lock_padding"`
}

// Selector picks kernel parameters for one GPU target. It holds no mutable
// state and is safe for concurrent use.
type Selector struct {
	target GPUTarget
	family string
	tables FamilyTables
	limits ImageLimits
}

// NewSelector binds a target to its family in tables. Targets without a
// dedicated family use FamilyDefault.
func NewSelector(target GPUTarget, tables Tables, limits ImageLimits) (*Selector, error) {
	if err := tables.Validate(); err != nil {
		return nil, err
	}
	family := familyFor(target)
	ft, ok := tables[family]
	if !ok {
		family = FamilyDefault
		ft = tables[family]
	}
	return &Selector{target: target, family: family, tables: ft, limits: limits}, nil
}

func familyFor(t GPUTarget) string {
	switch t {
	case G715, G615:
		return FamilyG715
	default:
		return FamilyDefault
	}
}

func (s *Selector) Target() GPUTarget   { return s.target }
func (s *Selector) Family() string      { return s.family }
func (s *Selector) Limits() ImageLimits { return s.limits }

// Configure returns the kernel parameters for p. Float types take the
// optimistic table's nearest row when it validates for the exact shape and
// the fallback table's row otherwise; 8-bit types never export to an image.
func (s *Selector) Configure(p Problem) KernelInfo {
	switch {
	case p.DataType == F32:
		return s.selectFloat(s.tables.F32.Pick(p.AdjLHS, p.AdjRHS), p)
	case p.DataType == F16:
		return s.selectFloat(s.tables.F16.Pick(p.AdjLHS, p.AdjRHS), p)
	case p.DataType.Is8Bit():
		return FindInfo(s.tables.Int8.Pick(p.AdjLHS, p.AdjRHS), p.AdjLHS, p.AdjRHS, p.M, p.N, p.K, p.B)
	default:
		panic(&PreconditionError{Op: "Configure", Reason: fmt.Sprintf("no configuration for data type %s", p.DataType)})
	}
}

func (s *Selector) selectFloat(pair TablePair, p Problem) KernelInfo {
	best := FindInfo(pair.Best, p.AdjLHS, p.AdjRHS, p.M, p.N, p.K, p.B)
	fallback := FindInfo(pair.Fallback, p.AdjLHS, p.AdjRHS, p.M, p.N, p.K, p.B)
	return SelectInfo(best, fallback, p.Shape, p.DataType, p.RHSLockPadding, s.limits)
}
