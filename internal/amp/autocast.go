package amp

import (
	"github.com/23skdu/longbow-tiller/internal/tensor"
)

// Default per-op policy. Matmul-shaped ops tolerate fp16; reductions and
// loss ops keep fp32 for accumulation accuracy.
var (
	defaultAllow = []string{"matmul", "linear", "conv"}
	defaultDeny  = []string{"mse_loss", "softmax", "reduce_sum", "log"}
)

// CastContext decides, per named op, whether inputs are rewritten to carry
// fp16 rounding. The policy is static for the lifetime of the context. A
// disabled context is numerically invisible: FP16 is always false and
// CastIn returns its input untouched.
type CastContext struct {
	enabled bool
	level   Level
	allow   map[string]struct{}
	deny    map[string]struct{}
}

// Option customizes an autocast context.
type Option func(*CastContext)

// WithAllowList adds ops that compute through fp16.
func WithAllowList(ops ...string) Option {
	return func(c *CastContext) {
		for _, op := range ops {
			c.allow[op] = struct{}{}
		}
	}
}

// WithDenyList pins ops to fp32. Deny wins over allow.
func WithDenyList(ops ...string) Option {
	return func(c *CastContext) {
		for _, op := range ops {
			c.deny[op] = struct{}{}
		}
	}
}

// WithLevel records the precision level the context was opened for.
func WithLevel(l Level) Option {
	return func(c *CastContext) {
		c.level = l
	}
}

// AutoCast opens a precision-selection context. With enabled=false every op
// resolves to fp32 and the context is a no-op.
func AutoCast(enabled bool, opts ...Option) *CastContext {
	c := &CastContext{
		enabled: enabled,
		level:   LevelO1,
		allow:   make(map[string]struct{}),
		deny:    make(map[string]struct{}),
	}
	for _, op := range defaultAllow {
		c.allow[op] = struct{}{}
	}
	for _, op := range defaultDeny {
		c.deny[op] = struct{}{}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CastContext) Enabled() bool { return c.enabled }
func (c *CastContext) Level() Level  { return c.level }

// FP16 resolves the precision for one op: disabled or denied ops stay
// fp32, allow-listed ops go fp16, unlisted ops default to fp32.
func (c *CastContext) FP16(op string) bool {
	if !c.enabled || c.level == LevelO0 {
		return false
	}
	if _, denied := c.deny[op]; denied {
		return false
	}
	_, allowed := c.allow[op]
	return allowed
}

// CastIn returns t itself when op stays fp32, otherwise a copy rounded
// through fp16.
func (c *CastContext) CastIn(op string, t *tensor.Tensor) *tensor.Tensor {
	if !c.FP16(op) {
		return t
	}
	return tensor.RoundTripHalfCopy(t)
}
