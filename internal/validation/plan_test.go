package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgefleet/choreo/pkg/schema"
)

func newValidator(t *testing.T) *PlanValidator {
	t.Helper()
	v, err := NewPlanValidator()
	require.NoError(t, err)
	return v
}

func validDef() *schema.PlanDefinition {
	return &schema.PlanDefinition{
		Name:      "patrol",
		FirstStep: "scan",
		Steps: []schema.StepDefinition{
			{Name: "scan", Service: schema.Capability{Service: "camera"}, NextSteps: []string{"analyze"}},
			{Name: "analyze", Service: schema.Capability{Service: "vision"}, NextSteps: []string{"report"}},
			{Name: "report", Service: schema.Capability{Service: "notifier"}},
		},
	}
}

func TestValidateAcceptsWellFormedPlan(t *testing.T) {
	v := newValidator(t)
	require.NoError(t, v.Validate(validDef()))
}

func TestValidateStructural(t *testing.T) {
	v := newValidator(t)

	cases := []struct {
		name   string
		mutate func(*schema.PlanDefinition)
	}{
		{"missing name", func(d *schema.PlanDefinition) { d.Name = "" }},
		{"missing first step", func(d *schema.PlanDefinition) { d.FirstStep = "" }},
		{"no steps", func(d *schema.PlanDefinition) { d.Steps = nil }},
		{"step without service", func(d *schema.PlanDefinition) { d.Steps[0].Service.Service = "" }},
		{"bad timeout format", func(d *schema.PlanDefinition) { d.Timeout = "five minutes" }},
		{"negative version", func(d *schema.PlanDefinition) {
			v := -1
			d.Steps[0].Service.MinVersion = &v
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := validDef()
			tc.mutate(def)
			err := v.Validate(def)
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
		})
	}
}

func TestValidateSemantic(t *testing.T) {
	v := newValidator(t)

	t.Run("duplicate step names", func(t *testing.T) {
		def := validDef()
		def.Steps = append(def.Steps, schema.StepDefinition{
			Name: "scan", Service: schema.Capability{Service: "camera"},
		})
		err := v.Validate(def)
		require.Error(t, err)
		assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	})

	t.Run("first step missing from steps", func(t *testing.T) {
		def := validDef()
		def.FirstStep = "boot"
		err := v.Validate(def)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not exist")
	})

	t.Run("edge to unknown step", func(t *testing.T) {
		def := validDef()
		def.Steps[2].NextSteps = []string{"ghost"}
		err := v.Validate(def)
		require.Error(t, err)
		assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	})

	t.Run("self link", func(t *testing.T) {
		def := validDef()
		def.Steps[2].NextSteps = []string{"report"}
		err := v.Validate(def)
		require.Error(t, err)
		assert.True(t, schema.IsCode(err, schema.ErrCodeCycleDetected))
	})

	t.Run("duplicate edge", func(t *testing.T) {
		def := validDef()
		def.Steps[0].NextSteps = []string{"analyze", "analyze"}
		err := v.Validate(def)
		require.Error(t, err)
		assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	})

	t.Run("inverted version range", func(t *testing.T) {
		def := validDef()
		minV, maxV := 5, 2
		def.Steps[0].Service.MinVersion = &minV
		def.Steps[0].Service.MaxVersion = &maxV
		err := v.Validate(def)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "inverted version range")
	})
}

func TestValidateDAG(t *testing.T) {
	v := newValidator(t)

	t.Run("cycle", func(t *testing.T) {
		def := validDef()
		def.Steps[2].NextSteps = []string{"scan"}
		err := v.Validate(def)
		require.Error(t, err)
		assert.True(t, schema.IsCode(err, schema.ErrCodeCycleDetected))
	})

	t.Run("unreachable step", func(t *testing.T) {
		def := validDef()
		def.Steps = append(def.Steps, schema.StepDefinition{
			Name: "orphan", Service: schema.Capability{Service: "misc"},
		})
		err := v.Validate(def)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unreachable")
	})

	t.Run("diamond is accepted", func(t *testing.T) {
		def := &schema.PlanDefinition{
			Name:      "diamond",
			FirstStep: "start",
			Steps: []schema.StepDefinition{
				{Name: "start", Service: schema.Capability{Service: "s"}, NextSteps: []string{"left", "right"}},
				{Name: "left", Service: schema.Capability{Service: "s"}, NextSteps: []string{"join"}},
				{Name: "right", Service: schema.Capability{Service: "s"}, NextSteps: []string{"join"}},
				{Name: "join", Service: schema.Capability{Service: "s"}},
			},
		}
		require.NoError(t, v.Validate(def))
	})
}

func TestValidateSchedule(t *testing.T) {
	v := newValidator(t)

	def := validDef()
	def.Schedule = "*/5 * * * *"
	require.NoError(t, v.Validate(def))

	def.Schedule = "every five minutes"
	err := v.Validate(def)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestValidateRetryPolicy(t *testing.T) {
	v := newValidator(t)

	def := validDef()
	def.Retry = &schema.RetryPolicy{MaxAttempts: 3, Backoff: "exponential", Delay: "500ms", MaxDelay: "10s"}
	require.NoError(t, v.Validate(def))

	def.Retry = &schema.RetryPolicy{MaxAttempts: 0}
	require.Error(t, v.Validate(def))

	def.Retry = &schema.RetryPolicy{MaxAttempts: 2, Backoff: "fibonacci"}
	require.Error(t, v.Validate(def))
}

func TestValidateNilDefinition(t *testing.T) {
	v := newValidator(t)
	err := v.Validate(nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}
