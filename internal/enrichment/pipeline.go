package enrichment

import (
	"context"
	"fmt"
	"time"

	apperrors "claim-enricher/internal/common/errors"
	"claim-enricher/internal/common/logging"
)

// Enricher turns a Request into an optional value. Implementations never
// return errors; a failed enrichment is an absent Value.
type Enricher interface {
	Enrich(ctx context.Context, req Request) Value
}

// BackendFetcher performs the network half of an enrichment
type BackendFetcher interface {
	Fetch(ctx context.Context, url, subjectID string) (RawResponse, error)
	FetchWithBearer(ctx context.Context, url, accessToken string) (RawResponse, error)
}

// PathExtractor performs the JSONPath half of an enrichment
type PathExtractor interface {
	Extract(raw []byte, path string) (Value, error)
}

// Pipeline validates a request, fetches the backend document and extracts
// the configured path
type Pipeline struct {
	fetcher   BackendFetcher
	extractor PathExtractor
	logger    logging.Logger
}

var _ Enricher = (*Pipeline)(nil)

// NewPipeline wires a fetcher and an extractor together
func NewPipeline(fetcher BackendFetcher, extractor PathExtractor, logger logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Pipeline{
		fetcher:   fetcher,
		extractor: extractor,
		logger:    logger.WithFields(logging.Field{Key: "component", Value: "enrichment"}),
	}
}

// Enrich runs the pipeline and returns only its value
func (p *Pipeline) Enrich(ctx context.Context, req Request) Value {
	return p.Run(ctx, req).Value
}

// Run executes the pipeline and reports where it stopped and why
func (p *Pipeline) Run(ctx context.Context, req Request) (outcome Outcome) {
	start := time.Now()
	outcome.Stage = StageValidate

	logger := p.logger.WithContext(ctx).WithFields(
		logging.Field{Key: "url", Value: req.FetchURL},
		logging.Field{Key: "path", Value: req.JSONPath},
		logging.Field{Key: "auth_mode", Value: string(req.Mode())},
	)

	defer func() {
		if r := recover(); r != nil {
			outcome.Value = None
			outcome.Err = apperrors.InternalError(fmt.Sprintf("panic during %s: %v", outcome.Stage, r), nil)
			logger.Error("Enrichment panicked", outcome.Err, logging.Field{Key: "stage", Value: string(outcome.Stage)})
		}
		outcome.Duration = time.Since(start)
	}()

	if err := req.Validate(); err != nil {
		logger.Warn("Enrichment skipped, request incomplete", logging.Field{Key: "reason", Value: err.Error()})
		outcome.Err = err
		return outcome
	}

	outcome.Stage = StageFetch
	logger.Debug("Fetching enrichment data", logging.Field{Key: "subject", Value: req.SubjectID})

	var raw RawResponse
	var err error
	switch req.Mode() {
	case AuthModeBearer:
		raw, err = p.fetcher.FetchWithBearer(ctx, req.FetchURL, req.AccessToken)
	default:
		raw, err = p.fetcher.Fetch(ctx, req.FetchURL, req.SubjectID)
	}
	if err != nil {
		p.logFailure(logger, outcome.Stage, err)
		outcome.Err = err
		return outcome
	}

	outcome.Stage = StageExtract
	value, err := p.extractor.Extract(raw, req.JSONPath)
	if err != nil {
		p.logFailure(logger, outcome.Stage, err)
		outcome.Err = err
		return outcome
	}

	outcome.Stage = StageDone
	outcome.Value = value
	if !value.Present {
		logger.Debug("Path matched null, nothing to embed")
	}
	return outcome
}

// logFailure logs expected degradations as warnings and anything else as errors
func (p *Pipeline) logFailure(logger logging.Logger, stage Stage, err error) {
	fields := []logging.Field{
		{Key: "stage", Value: string(stage)},
		{Key: "error_type", Value: string(apperrors.GetType(err))},
	}

	switch apperrors.GetType(err) {
	case apperrors.ErrTypeInternal:
		logger.Error("Enrichment failed", err, fields...)
	default:
		fields = append(fields, logging.Field{Key: "error", Value: err.Error()})
		logger.Warn("Enrichment produced no value", fields...)
	}
}
