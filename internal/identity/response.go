package identity

import "github.com/bookleaf/assist/pkg/types"

// Resolution is the outcome of a successful resolve.
type Resolution struct {
	Author     *types.Author
	Identity   *types.Identity
	Confidence float64
	Method     types.MatchMethod
	Reasoning  string
	// Created is set when this call wrote a new author.
	Created bool
}

// Response is the wire shape of a resolution.
type Response struct {
	Success    bool              `json:"success"`
	Author     *types.Author     `json:"author"`
	Identity   *types.Identity   `json:"identity"`
	Confidence float64           `json:"confidence"`
	Method     types.MatchMethod `json:"method"`
	Reasoning  string            `json:"reasoning"`
}

// NewResponse renders res. A nil resolution is an unsuccessful response.
func NewResponse(res *Resolution) Response {
	if res == nil {
		return Response{Success: false}
	}
	return Response{
		Success:    true,
		Author:     res.Author,
		Identity:   res.Identity,
		Confidence: res.Confidence,
		Method:     res.Method,
		Reasoning:  res.Reasoning,
	}
}
