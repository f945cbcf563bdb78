package api

import "github.com/samcharles93/cldispatch/internal/matmul"

type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
}

type ConfigRequest struct {
	M              uint32 `json:"m"`
	N              uint32 `json:"n"`
	K              uint32 `json:"k"`
	Batch          uint32 `json:"batch"`
	DataType       string `json:"data_type"`
	AdjLHS         bool   `json:"adj_lhs"`
	AdjRHS         bool   `json:"adj_rhs"`
	RHSLockPadding bool   `json:"rhs_lock_padding"`
	// Target overrides the served device's GPU model.
	Target string `json:"target,omitempty"`
}

type ConfigResponse struct {
	ID           string            `json:"id"`
	Object       string            `json:"object"`
	Target       string            `json:"target"`
	Family       string            `json:"family"`
	Kernel       string            `json:"kernel"`
	Config       matmul.KernelInfo `json:"config"`
	BuildOptions []string          `json:"build_options"`
}

type ValidateRequest struct {
	LHS      []uint32          `json:"lhs"`
	RHS      []uint32          `json:"rhs"`
	DataType string            `json:"data_type"`
	Config   matmul.KernelInfo `json:"config"`
}

type ValidateResponse struct {
	Valid bool     `json:"valid"`
	Error string   `json:"error,omitempty"`
	Dst   []uint32 `json:"dst,omitempty"`
}
