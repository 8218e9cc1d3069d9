// Package agent answers a question end to end: it routes the question, asks
// the synthesizer for a query, runs it through the execution gateway and
// phrases the result.
package agent

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/v1nybarreto/genai-agent/pkg/models"
)

// QueryGenerator turns a question into a query against the live schema
type QueryGenerator interface {
	Generate(ctx context.Context, text string) (models.QuerySpec, error)
}

// Executor runs one query through guard, estimate, ceiling and execution
type Executor interface {
	Execute(ctx context.Context, query string, jobID string) models.ExecutionResult
}

// Response is everything known about one answered question
type Response struct {
	RequestID string
	Question  string
	Intent    Intent
	// Query and Result are set on the data branch only
	Query     *models.QuerySpec
	Result    *models.ExecutionResult
	Answer    string
	Err       error
	StartedAt time.Time
	EndedAt   time.Time
}

// Latency is the wall time spent on the question
func (r *Response) Latency() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// EstimatedBytes returns the dry-run estimate when one was made
func (r *Response) EstimatedBytes() *int64 {
	if r.Result == nil || r.Result.Estimate == nil {
		return nil
	}
	b := r.Result.Estimate.BytesScanned
	return &b
}

// Agent wires the synthesizer to the gateway
type Agent struct {
	Generator QueryGenerator
	Gateway   Executor
	// SchemaTimeout bounds schema discovery; 0 means no extra deadline
	SchemaTimeout time.Duration
	Logger        *logrus.Logger
	now           func() time.Time
}

// NewAgent creates a new agent
func NewAgent(generator QueryGenerator, gateway Executor, logger *logrus.Logger) *Agent {
	return &Agent{
		Generator: generator,
		Gateway:   gateway,
		Logger:    logger,
		now:       time.Now,
	}
}

// Ask answers one question. It never returns an empty answer; failures are
// phrased in Answer and kept in Err.
func (a *Agent) Ask(ctx context.Context, question string) *Response {
	resp := &Response{
		RequestID: uuid.NewString(),
		Question:  question,
		StartedAt: a.clock(),
	}
	log := a.Logger.WithField("request_id", resp.RequestID)

	resp.Intent = Route(question)
	log.WithField("intent", resp.Intent).Infof("Routed question: %.120s", question)

	if resp.Intent == IntentChitChat {
		resp.Answer = ChitChatReply
		return a.finish(resp, log)
	}

	spec, err := a.generate(ctx, question)
	if err != nil {
		log.Errorf("Query synthesis failed: %v", err)
		resp.Err = err
		resp.Answer = RenderFailure(err)
		return a.finish(resp, log)
	}
	resp.Query = &spec
	log.WithField("shape", spec.Shape.String()).Debugf("Candidate query: %s", spec.Text)

	result := a.Gateway.Execute(ctx, spec.Text, jobID(resp.RequestID))
	resp.Result = &result
	if !result.OK {
		resp.Err = result.Cause
		resp.Answer = RenderFailure(result.Cause)
		return a.finish(resp, log)
	}

	resp.Answer = Render(result.Rows)
	return a.finish(resp, log)
}

func (a *Agent) generate(ctx context.Context, question string) (models.QuerySpec, error) {
	if a.SchemaTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.SchemaTimeout)
		defer cancel()
	}
	return a.Generator.Generate(ctx, question)
}

func (a *Agent) finish(resp *Response, log *logrus.Entry) *Response {
	resp.EndedAt = a.clock()
	log.WithField("latency_ms", resp.Latency().Milliseconds()).Info("Question answered")
	return resp
}

func (a *Agent) clock() time.Time {
	if a.now == nil {
		return time.Now()
	}
	return a.now()
}

// jobID derives the warehouse job id from the request id
func jobID(requestID string) string {
	return "genai_agent_" + requestID
}
