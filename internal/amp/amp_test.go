package amp

import (
	"math"
	"math/rand"
	"testing"

	"github.com/23skdu/longbow-tiller/internal/model"
	"github.com/23skdu/longbow-tiller/internal/optimizer"
	"github.com/23skdu/longbow-tiller/internal/tensor"
)

func almostEqual(a, b, tol float32) bool {
	return float32(math.Abs(float64(a-b))) <= tol
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"O0", LevelO0, false},
		{"o1", LevelO1, false},
		{"O2", LevelO2, false},
		{"O3", LevelO0, true},
		{"", LevelO0, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLevelString(t *testing.T) {
	if LevelO1.String() != "O1" {
		t.Errorf("expected O1, got %s", LevelO1.String())
	}
	if LevelO2.String() != "O2" {
		t.Errorf("expected O2, got %s", LevelO2.String())
	}
}

func TestDefaultPolicy(t *testing.T) {
	c := AutoCast(true)

	if !c.FP16("matmul") {
		t.Error("expected matmul to resolve fp16")
	}
	if !c.FP16("linear") {
		t.Error("expected linear to resolve fp16")
	}
	if c.FP16("softmax") {
		t.Error("expected softmax to stay fp32")
	}
	if c.FP16("mse_loss") {
		t.Error("expected mse_loss to stay fp32")
	}
	if c.FP16("unknown_op") {
		t.Error("expected unlisted op to default to fp32")
	}
}

func TestDisabledContextIsInvisible(t *testing.T) {
	c := AutoCast(false)

	if c.FP16("matmul") {
		t.Error("disabled context must resolve everything fp32")
	}

	src := tensor.FromSlice(1, 2, []float32{1.0001, 2.0002})
	out := c.CastIn("matmul", src)
	if out != src {
		t.Error("disabled CastIn must return its input untouched")
	}
}

func TestCustomLists(t *testing.T) {
	c := AutoCast(true,
		WithAllowList("relu"),
		WithDenyList("matmul"),
	)

	if !c.FP16("relu") {
		t.Error("expected custom allow-listed op to resolve fp16")
	}
	// Deny wins over the default allow entry
	if c.FP16("matmul") {
		t.Error("expected custom deny to override default allow")
	}
}

func TestCastInRounds(t *testing.T) {
	c := AutoCast(true)

	src := tensor.FromSlice(1, 1, []float32{1.0001})
	out := c.CastIn("matmul", src)

	if out == src {
		t.Error("expected a new tensor for an fp16 op")
	}
	if src.At(0, 0) != 1.0001 {
		t.Error("expected source to stay untouched")
	}
	if out.At(0, 0) == 1.0001 {
		t.Error("expected output to carry fp16 rounding")
	}
}

func TestAutoCastMatchesNoContext(t *testing.T) {
	// A disabled context and no context at all must produce bit-identical
	// forward results.
	mk := func() *model.MLP {
		m, err := model.New(4, 8, 4, 42, nil)
		if err != nil {
			t.Fatalf("model.New: %v", err)
		}
		return m
	}
	rng := rand.New(rand.NewSource(9))
	x := tensor.Randn(3, 4, rng, 1.0)

	bare := mk().Forward(nil, x)
	disabled := mk().Forward(AutoCast(false), x)

	for i := range bare.Data() {
		if bare.Data()[i] != disabled.Data()[i] {
			t.Fatalf("element %d: expected %v, got %v", i, bare.Data()[i], disabled.Data()[i])
		}
	}
}

func TestGradScalerValidation(t *testing.T) {
	if _, err := NewGradScaler(true, 0); err == nil {
		t.Error("expected error for zero scale")
	}
	if _, err := NewGradScaler(true, -1); err == nil {
		t.Error("expected error for negative scale")
	}
}

func TestGradScalerScale(t *testing.T) {
	s, err := NewGradScaler(true, 1024)
	if err != nil {
		t.Fatalf("NewGradScaler: %v", err)
	}
	if got := s.Scale(2.0); got != 2048.0 {
		t.Errorf("expected 2048, got %v", got)
	}

	off, err := NewGradScaler(false, 1024)
	if err != nil {
		t.Fatalf("NewGradScaler: %v", err)
	}
	if got := off.Scale(2.0); got != 2.0 {
		t.Errorf("disabled scaler must be identity, got %v", got)
	}
	if off.LossScale() != 1 {
		t.Errorf("disabled scaler LossScale must be 1, got %v", off.LossScale())
	}
}

func TestUnscale(t *testing.T) {
	s, err := NewGradScaler(true, 4)
	if err != nil {
		t.Fatalf("NewGradScaler: %v", err)
	}

	p := &model.Param{
		Name:  "w",
		Value: tensor.New(1, 2),
		Grad:  tensor.FromSlice(1, 2, []float32{8, -4}),
	}
	s.Unscale([]*model.Param{p})

	if p.Grad.At(0, 0) != 2 || p.Grad.At(0, 1) != -1 {
		t.Errorf("expected grads [2 -1], got [%v %v]", p.Grad.At(0, 0), p.Grad.At(0, 1))
	}
}

func TestMinimizeAppliesUnscaledStep(t *testing.T) {
	s, err := NewGradScaler(true, 2)
	if err != nil {
		t.Fatalf("NewGradScaler: %v", err)
	}
	opt, err := optimizer.NewSGD(1.0)
	if err != nil {
		t.Fatalf("NewSGD: %v", err)
	}

	p := &model.Param{
		Name:  "w",
		Value: tensor.FromSlice(1, 1, []float32{10}),
		Grad:  tensor.FromSlice(1, 1, []float32{4}), // scaled grad; true grad 2
	}

	if !s.Minimize(opt, []*model.Param{p}) {
		t.Fatal("expected Minimize to apply the step")
	}
	if !almostEqual(p.Value.At(0, 0), 8, 1e-6) {
		t.Errorf("expected 10 - 1.0*2 = 8, got %v", p.Value.At(0, 0))
	}
	if opt.Updates() != 1 {
		t.Errorf("expected 1 update, got %d", opt.Updates())
	}
}

func TestMinimizeSkipsNonFiniteGrads(t *testing.T) {
	s, err := NewGradScaler(true, 2)
	if err != nil {
		t.Fatalf("NewGradScaler: %v", err)
	}
	opt, err := optimizer.NewSGD(1.0)
	if err != nil {
		t.Fatalf("NewSGD: %v", err)
	}

	p := &model.Param{
		Name:  "w",
		Value: tensor.FromSlice(1, 1, []float32{10}),
		Grad:  tensor.FromSlice(1, 1, []float32{float32(math.NaN())}),
	}

	if s.Minimize(opt, []*model.Param{p}) {
		t.Fatal("expected Minimize to skip on NaN gradient")
	}
	if p.Value.At(0, 0) != 10 {
		t.Errorf("expected parameter untouched, got %v", p.Value.At(0, 0))
	}
	if opt.Updates() != 0 {
		t.Errorf("expected 0 updates, got %d", opt.Updates())
	}
	if s.Skipped() != 1 {
		t.Errorf("expected 1 skipped update, got %d", s.Skipped())
	}
}

func TestDecoratePreservesOutputShape(t *testing.T) {
	m, err := model.New(4, 8, 3, 42, nil)
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}
	opt, err := optimizer.NewSGD(0.1)
	if err != nil {
		t.Fatalf("NewSGD: %v", err)
	}

	rng := rand.New(rand.NewSource(5))
	x := tensor.Randn(2, 4, rng, 1.0)
	before := m.Forward(nil, x)
	beforeRows, beforeCols := before.Rows(), before.Cols()

	if err := Decorate(m, opt); err != nil {
		t.Fatalf("Decorate: %v", err)
	}

	after := m.Forward(nil, x)
	if after.Rows() != beforeRows || after.Cols() != beforeCols {
		t.Errorf("expected shape [%d, %d], got [%d, %d]",
			beforeRows, beforeCols, after.Rows(), after.Cols())
	}

	for _, p := range m.Params() {
		if p.Master == nil {
			t.Errorf("param %s: expected master weights", p.Name)
		}
		if p.Half == nil {
			t.Errorf("param %s: expected fp16 storage", p.Name)
		}
	}
	if !opt.MultiPrecision() {
		t.Error("expected optimizer switched to multi-precision")
	}
}

func TestDecorateTwiceFails(t *testing.T) {
	m, err := model.New(2, 2, 2, 1, nil)
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}
	opt, err := optimizer.NewSGD(0.1)
	if err != nil {
		t.Fatalf("NewSGD: %v", err)
	}

	if err := Decorate(m, opt); err != nil {
		t.Fatalf("first Decorate: %v", err)
	}
	if err := Decorate(m, opt); err == nil {
		t.Error("expected error on second Decorate")
	}
}

func TestDecorateNilArgs(t *testing.T) {
	m, _ := model.New(2, 2, 2, 1, nil)
	opt, _ := optimizer.NewSGD(0.1)

	if err := Decorate(nil, opt); err == nil {
		t.Error("expected error for nil model")
	}
	if err := Decorate(m, nil); err == nil {
		t.Error("expected error for nil optimizer")
	}
}
