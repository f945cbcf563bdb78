// Package api serves kernel configuration queries over HTTP.
package api

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/cldispatch/internal/device"
	"github.com/samcharles93/cldispatch/internal/matmul"
	"github.com/samcharles93/cldispatch/internal/operator"
)

type Server struct {
	device device.Device
	tables matmul.Tables
}

// NewServer answers for dev using tables, or the built-in tables when nil.
func NewServer(dev device.Device, tables matmul.Tables) *Server {
	if tables == nil {
		tables = matmul.DefaultTables()
	}
	return &Server{device: dev, tables: tables}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/matmul/config", s.handleConfig)
	e.POST("/v1/matmul/validate", s.handleValidate)
	e.GET("/v1/device", s.handleDevice)
}

func (s *Server) handleConfig(c *echo.Context) error {
	req, err := decodeJSON[ConfigRequest](c.Request().Body)
	if err != nil {
		return writeAPIError(c, err)
	}
	problem, err := req.problem()
	if err != nil {
		return writeAPIError(c, err)
	}
	sel, err := s.selector(req.Target)
	if err != nil {
		return writeAPIError(c, err)
	}

	info := sel.Configure(problem)
	return c.JSON(http.StatusOK, ConfigResponse{
		ID:           "cfg_" + uuid.NewString(),
		Object:       "matmul.config",
		Target:       sel.Target().String(),
		Family:       sel.Family(),
		Kernel:       operator.KernelName(info.AdjLHS, info.AdjRHS),
		Config:       info,
		BuildOptions: operator.BuildOptions(info, problem.DataType),
	})
}

func (s *Server) handleValidate(c *echo.Context) error {
	req, err := decodeJSON[ValidateRequest](c.Request().Body)
	if err != nil {
		return writeAPIError(c, err)
	}
	dt, err := matmul.ParseDataType(req.DataType)
	if err != nil {
		return writeAPIError(c, invalidField("data_type", err))
	}
	limits := device.ImageLimits(s.device.Queue().Device())
	dst, err := matmul.Validate(matmul.NewTensorInfo(dt, req.LHS...), matmul.NewTensorInfo(dt, req.RHS...), req.Config, limits)
	if err != nil {
		return c.JSON(http.StatusOK, ValidateResponse{Valid: false, Error: err.Error()})
	}
	return c.JSON(http.StatusOK, ValidateResponse{Valid: true, Dst: dst.Shape})
}

func (s *Server) handleDevice(c *echo.Context) error {
	return c.JSON(http.StatusOK, device.Describe(s.device))
}

func (s *Server) selector(target string) (*matmul.Selector, error) {
	info := s.device.Queue().Device()
	if target == "" {
		t, err := device.Target(info)
		if err != nil {
			return nil, err
		}
		return matmul.NewSelector(t, s.tables, device.ImageLimits(info))
	}
	t, err := matmul.ParseTarget(target)
	if err != nil {
		return nil, unknownTarget(err)
	}
	return matmul.NewSelector(t, s.tables, device.ImageLimits(info))
}

func (r ConfigRequest) problem() (matmul.Problem, error) {
	if r.M == 0 || r.N == 0 || r.K == 0 {
		return matmul.Problem{}, invalidField("m, n, k", fmt.Errorf("must be positive (got %d, %d, %d)", r.M, r.N, r.K))
	}
	dt, err := matmul.ParseDataType(r.DataType)
	if err != nil {
		return matmul.Problem{}, invalidField("data_type", err)
	}
	return matmul.Problem{
		Shape:          matmul.Shape{M: r.M, N: r.N, K: r.K, B: max(r.Batch, 1)},
		DataType:       dt,
		AdjLHS:         r.AdjLHS,
		AdjRHS:         r.AdjRHS,
		RHSLockPadding: r.RHSLockPadding,
	}, nil
}
