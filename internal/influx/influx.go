package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"

	"github.com/ctfmode/extension/internal/config"
	"github.com/ctfmode/extension/pkg/core"
)

// ErrDisabled is returned by Connect when influx.enabled is false.
var ErrDisabled = errors.New("influxdb is disabled")

const (
	measurementFlag  = "ctf_flag_event"
	measurementRound = "ctf_round_event"
)

// Manager writes match events to InfluxDB, or to a gzipped line protocol
// backup file when the server cannot be reached. It implements storage.Backend.
type Manager struct {
	Client       influxdb2.Client
	Writer       influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	Logger       zerolog.Logger
	BackupPath   string

	cfg        config.InfluxConfig
	backupFile *os.File

	mu      sync.Mutex
	mapName string
	matchID uint
}

// NewManager creates a new InfluxDB manager.
func NewManager(log zerolog.Logger, cfg config.InfluxConfig, backupPath string) *Manager {
	return &Manager{
		Logger:     log,
		BackupPath: backupPath,
		cfg:        cfg,
	}
}

// Connect establishes a connection to InfluxDB.
func (m *Manager) Connect() error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}

	m.Client = influxdb2.NewClientWithOptions(
		fmt.Sprintf("%s://%s:%s", m.cfg.Protocol, m.cfg.Host, m.cfg.Port),
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// validate client connection health
	running, err := m.Client.Ping(ctx)
	if err != nil || !running {
		m.IsValid = false
		if m.BackupWriter == nil {
			m.Logger.Info().Str("backupPath", m.BackupPath).
				Msg("Failed to initialize InfluxDB client, writing to backup file")

			file, err := os.OpenFile(m.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return fmt.Errorf("error creating backup file: %w", err)
			}
			m.backupFile = file
			m.BackupWriter = gzip.NewWriter(file)
		}
		m.Logger.Warn().Msg("InfluxDB client failed to initialize, using backup writer")
		return nil
	}

	m.IsValid = true
	if err := m.setupOrganizationAndBucket(ctx); err != nil {
		return err
	}
	m.createWriter()
	m.Logger.Info().Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) setupOrganizationAndBucket(ctx context.Context) error {
	orgName := m.cfg.Org

	influxOrg, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Info().Str("org", orgName).Msg("Organization not found, creating")
		influxOrg, err = m.Client.OrganizationsAPI().CreateOrganizationWithName(ctx, orgName)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", orgName).Msg("Error creating organization")
			return err
		}
	}

	// ensure the bucket exists with 90 day retention
	if _, err = m.Client.BucketsAPI().FindBucketByName(ctx, m.cfg.Bucket); err != nil {
		m.Logger.Info().Str("bucket", m.cfg.Bucket).Msg("Bucket not found, creating")

		rule := domain.RetentionRuleTypeExpire
		_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, influxOrg, m.cfg.Bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: 60 * 60 * 24 * 90, // 90 days
		})
		if err != nil {
			m.Logger.Error().Err(err).Str("bucket", m.cfg.Bucket).Msg("Error creating bucket")
			return err
		}
	}
	return nil
}

func (m *Manager) createWriter() {
	m.Writer = m.Client.WriteAPI(m.cfg.Org, m.cfg.Bucket)

	errorsCh := m.Writer.Errors()
	go func() {
		for writeErr := range errorsCh {
			m.Logger.Error().Err(writeErr).Str("bucket", m.cfg.Bucket).
				Msg("Error sending data to InfluxDB")
		}
	}()
}

// WritePoint writes a point to InfluxDB or the backup file.
func (m *Manager) WritePoint(point *influxdb2_write.Point) error {
	if m.IsValid {
		if m.Writer == nil {
			return fmt.Errorf("influxDB bucket '%s' has no writer", m.cfg.Bucket)
		}
		m.Writer.WritePoint(point)
		return nil
	}

	if m.BackupWriter == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}
	lineProtocol := strings.TrimSuffix(influxdb2_write.PointToLineProtocol(point, time.Nanosecond), "\n")
	if _, err := m.BackupWriter.Write([]byte(lineProtocol + "\n")); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Init connects to the server.
func (m *Manager) Init() error {
	return m.Connect()
}

// Close flushes pending points and releases the client and backup file.
func (m *Manager) Close() error {
	var errs []error
	if m.Writer != nil {
		m.Writer.Flush()
	}
	if m.Client != nil {
		m.Client.Close()
	}
	if m.BackupWriter != nil {
		errs = append(errs, m.BackupWriter.Close())
		m.BackupWriter = nil
	}
	if m.backupFile != nil {
		errs = append(errs, m.backupFile.Close())
		m.backupFile = nil
	}
	return errors.Join(errs...)
}

// StartMatch tags subsequent points with the match.
func (m *Manager) StartMatch(info *core.MatchInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mapName = info.MapName
	m.matchID = info.ID
	return nil
}

// EndMatch pushes buffered points out.
func (m *Manager) EndMatch() error {
	if m.Writer != nil {
		m.Writer.Flush()
	}
	if m.BackupWriter != nil {
		if err := m.BackupWriter.Flush(); err != nil {
			return fmt.Errorf("flushing InfluxDB backup file: %w", err)
		}
	}
	return nil
}

func (m *Manager) matchTags() (string, uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mapName, m.matchID
}

func (m *Manager) RecordFlagEvent(e *core.FlagEvent) error {
	mapName, matchID := m.matchTags()
	return m.WritePoint(FlagEventPoint(mapName, matchID, e))
}

func (m *Manager) RecordRoundEvent(e *core.RoundEvent) error {
	mapName, matchID := m.matchTags()
	return m.WritePoint(RoundEventPoint(mapName, matchID, e))
}

// FlagEventPoint converts a flag transition to a point. Teams and the action
// are tags; the player and position are fields.
func FlagEventPoint(mapName string, matchID uint, e *core.FlagEvent) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement(measurementFlag).
		AddTag("map", mapName).
		AddTag("flag_team", e.FlagTeam.String()).
		AddTag("action", string(e.Action)).
		AddField("match_id", int64(matchID)).
		AddField("round", int64(e.Round)).
		AddField("player_index", int64(e.PlayerIndex)).
		AddField("x", e.Position.X).
		AddField("y", e.Position.Y).
		AddField("z", e.Position.Z).
		SetTime(e.Time)
	if e.PlayerTeam != core.TeamNone {
		p.AddTag("player_team", e.PlayerTeam.String())
	}
	if e.PlayerName != "" {
		p.AddField("player_name", e.PlayerName)
	}
	return p
}

// RoundEventPoint converts a round transition to a point with one score field per team.
func RoundEventPoint(mapName string, matchID uint, e *core.RoundEvent) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement(measurementRound).
		AddTag("map", mapName).
		AddTag("kind", string(e.Kind)).
		AddField("match_id", int64(matchID)).
		AddField("round", int64(e.Round)).
		SetTime(e.Time)
	if e.Winner != core.TeamNone {
		p.AddTag("winner", e.Winner.String())
	}
	for _, team := range core.Teams {
		p.AddField("score_"+team.String(), int64(e.Scores[team]))
	}
	return p
}
