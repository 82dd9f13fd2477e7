// Package modinput implements the Splunk modular input protocol for the
// bigquery input: --scheme, --validate-arguments and the streaming run.
package modinput

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/infobloxopen/bq-ingest/internal/checkpoint"
	"github.com/infobloxopen/bq-ingest/internal/credential"
	"github.com/infobloxopen/bq-ingest/internal/ingest"
	"github.com/infobloxopen/bq-ingest/internal/naming"
	"github.com/infobloxopen/bq-ingest/internal/projector"
	"github.com/infobloxopen/bq-ingest/internal/sink"
	"github.com/infobloxopen/bq-ingest/internal/warehouse"
	"github.com/infobloxopen/bq-ingest/internal/warehouse/bq"
)

// QuerierFunc builds the warehouse client for a stanza.
type QuerierFunc func(ctx context.Context, cfg bq.Config) (warehouse.Querier, error)

// ResolverFunc builds the credential store for the named input.
type ResolverFunc func(def *InputDefinition, stanza Stanza, name string) credential.Resolver

// App runs the modular input against splunkd's stdin/stdout protocol.
type App struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// NewQuerier defaults to bq.New.
	NewQuerier QuerierFunc
	// NewResolver defaults to the splunkd storage/passwords store.
	NewResolver ResolverFunc
	// Now and RunID are passed to the ingest runner.
	Now   func() time.Time
	RunID func() string
}

// NewLogger writes "LEVEL message key=value" lines, which splunkd files
// under the matching level in splunkd.log.
func NewLogger(w io.Writer) zerolog.Logger {
	cw := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    true,
		PartsOrder: []string{zerolog.LevelFieldName, zerolog.MessageFieldName},
		FormatLevel: func(i any) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return "INFO"
		},
	}
	return zerolog.New(cw).Level(zerolog.InfoLevel)
}

// Scheme prints the input scheme.
func (a *App) Scheme() int {
	if err := WriteScheme(a.Stdout); err != nil {
		fmt.Fprintf(a.Stderr, "ERROR %v\n", err)
		return 1
	}
	return 0
}

// ValidateArguments checks a new or edited input.
func (a *App) ValidateArguments() int {
	def, err := ParseValidationDefinition(a.Stdin)
	if err == nil {
		_, err = parseParams(def.Params)
	}
	if err == nil {
		err = validateServiceAccount(def.Params[ArgServiceAccount])
	}
	if err != nil {
		_ = WriteValidationError(a.Stdout, err.Error())
		return 1
	}
	return 0
}

// Run streams every stanza of the input definition read from Stdin and
// returns the exit code of the first failing stanza.
func (a *App) Run(ctx context.Context) int {
	logger := NewLogger(a.Stderr)

	def, err := ParseInputDefinition(a.Stdin)
	if err != nil {
		logger.Error().Err(err).Msg("failed to read input definition")
		return ingest.ExitConfig
	}

	out := bufio.NewWriter(a.Stdout)
	defer out.Flush()

	for _, stanza := range def.Stanzas {
		if code := a.runStanza(ctx, logger, out, def, stanza); code != ingest.ExitOK {
			return code
		}
	}
	return ingest.ExitOK
}

func (a *App) runStanza(ctx context.Context, logger zerolog.Logger, out *bufio.Writer, def *InputDefinition, stanza Stanza) int {
	logger = logger.With().Str("stanza", stanza.Name).Logger()
	defer out.Flush()

	kind, name, err := naming.SplitStanza(stanza.Name)
	if err != nil {
		logger.Error().Err(err).Msg("invalid stanza")
		return ingest.ExitConfig
	}
	params, err := parseParams(stanza.Params)
	if err != nil {
		logger.Error().Err(err).Msg("invalid input configuration")
		return ingest.ExitConfig
	}

	resolver := a.resolver(def, stanza, name)
	secret, rotated, err := credential.Reveal(ctx, resolver, ArgServiceAccount, params.ServiceAccount)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			logger.Error().Err(err).Msgf("Encrypted %s was not found for %s, reconfigure its value.", ArgServiceAccount, stanza.Name)
		} else {
			logger.Error().Err(err).Msgf("failed to resolve %s", ArgServiceAccount)
		}
		return ingest.ExitCredential
	}
	if rotated {
		if m, ok := resolver.(interface {
			MaskInput(ctx context.Context, kind, name string, fields ...string) error
		}); ok {
			if err := m.MaskInput(ctx, kind, name, ArgServiceAccount); err != nil {
				logger.Warn().Err(err).Msg("failed to mask stored credential in input configuration")
			}
		}
	}

	newQuerier := a.NewQuerier
	if newQuerier == nil {
		newQuerier = func(ctx context.Context, cfg bq.Config) (warehouse.Querier, error) {
			return bq.New(ctx, cfg)
		}
	}
	querier, err := newQuerier(ctx, bq.Config{
		ProjectID:       params.ProjectID,
		CredentialsJSON: []byte(secret),
		Location:        params.Location,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Unable to execute query as unable to obtain BigQuery client based on specified project ID and credentials.")
		return ingest.ExitClient
	}
	defer querier.Close()

	runner := &ingest.Runner{
		Logger:  logger,
		Querier: querier,
		Store:   &checkpoint.FileStore{Dir: def.CheckpointDir, StaleAfter: params.StaleAfter},
		Sink:    sink.NewSplunk(out, sink.Metadata{Input: stanza.Name}),
		Now:     a.Now,
		RunID:   a.RunID,
	}
	_, err = runner.Run(ctx, ingest.Spec{
		Input:            name,
		Query:            params.Query,
		TimeColumn:       params.TimeField,
		CheckpointColumn: params.CheckpointField,
		CheckpointStart:  params.CheckpointStart,
		Excluded:         params.Blacklist,
		Format:           projector.FormatForSourcetype(params.Sourcetype),
		Order:            params.Order,
		Bind:             params.Bind,
	})
	return ingest.ExitCode(err)
}

func (a *App) resolver(def *InputDefinition, stanza Stanza, name string) credential.Resolver {
	if a.NewResolver != nil {
		return a.NewResolver(def, stanza, name)
	}
	return credential.NewSplunk(def.ServerURI, def.SessionKey, stanza.App, name, true)
}

// params holds the parsed arguments of one stanza.
type params struct {
	Query           string
	ServiceAccount  string
	TimeField       string
	CheckpointField string
	CheckpointStart string
	Blacklist       []string
	Order           checkpoint.Order
	Bind            bool
	ProjectID       string
	Location        string
	Sourcetype      string
	StaleAfter      time.Duration
}

func parseParams(p map[string]string) (params, error) {
	out := params{
		Query:           p[ArgQuery],
		ServiceAccount:  p[ArgServiceAccount],
		TimeField:       p[ArgTimeField],
		CheckpointField: p[ArgCheckpointField],
		CheckpointStart: p[ArgCheckpointStart],
		Blacklist:       SplitList(p[ArgBlacklist]),
		ProjectID:       p[ArgProjectID],
		Location:        p[ArgLocation],
		Sourcetype:      p["sourcetype"],
	}
	if out.Query == "" {
		return out, errors.New("query is required")
	}

	order, err := checkpoint.ParseOrder(p[ArgCheckpointOrder])
	if err != nil {
		return out, err
	}
	out.Order = order

	if v := strings.TrimSpace(p[ArgCheckpointBinding]); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return out, fmt.Errorf("%s must be a boolean, got %q", ArgCheckpointBinding, v)
		}
		out.Bind = b
	}

	if v := strings.TrimSpace(p[ArgStaleAfter]); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return out, fmt.Errorf("%s must be a positive duration such as 30m, got %q", ArgStaleAfter, v)
		}
		out.StaleAfter = d
	}
	return out, nil
}

func validateServiceAccount(v string) error {
	switch v {
	case "":
		return errors.New("service_account is required")
	case credential.Mask:
		return nil
	}
	var sa struct {
		Type      string `json:"type"`
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal([]byte(v), &sa); err != nil {
		return fmt.Errorf("service_account must be a single line of JSON: %v", err)
	}
	if sa.ProjectID == "" {
		return errors.New("service_account has no project_id")
	}
	return nil
}

// SplitList splits a comma separated list, trimming entries and dropping
// empty ones.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
