package backup

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dbvault/internal/database"
	apperrors "dbvault/internal/errors"
	"dbvault/internal/logging"
	"dbvault/internal/pause"
	"dbvault/internal/schedule"
)

const (
	DefaultBatchSize        = 500
	DefaultExternalToolPath = "mysqldump"
	DefaultCopyChunkSize    = 64 * 1024

	artifactTimeLayout = "20060102_150405.000"
)

// Stage labels reported through the progress sink
const (
	StageConnecting  = "Connecting"
	StageListing     = "Listing tables"
	StageCounting    = "Counting rows"
	StageDumping     = "Dumping"
	StageExternal    = "Running external dump"
	StageCompressing = "Compressing"
	StageRetention   = "Applying retention"
	StageHashing     = "Hashing"
	StageUploading   = "Uploading"
	StageFinished    = "Finished"
)

// Target is the resolved connection a run dumps from
type Target struct {
	Connection database.DatabaseConfig
	Label      string
}

// Progress is one update sent to the progress sink
type Progress struct {
	Stage            string
	ProcessedTables  int
	TotalTables      int
	CurrentTable     string
	CurrentRows      int64
	CurrentTableRows int64
	RowsWritten      int64
}

// ProgressFunc receives progress updates; it may be nil
type ProgressFunc func(Progress)

// Result describes the artifact of a successful run
type Result struct {
	Path            string
	DatabaseName    string
	Bytes           int64
	Hash            string
	HashAlgorithm   string
	Tables          int
	Rows            int64
	Compressed      bool
	OffsiteLocation string
	OffsiteError    string
	StartedAt       time.Time
	CompletedAt     time.Time
}

// Options tunes the executor
type Options struct {
	BatchSize        int              `mapstructure:"batch_size" yaml:"batch_size"`
	ExternalToolPath string           `mapstructure:"external_tool_path" yaml:"external_tool_path"`
	HashAlgorithm    string           `mapstructure:"hash_algorithm" yaml:"hash_algorithm"`
	CopyChunkSize    int              `mapstructure:"copy_chunk_size" yaml:"copy_chunk_size"`
	Uploader         ArtifactUploader `mapstructure:"-" yaml:"-"`
}

// DefaultOptions returns the executor defaults
func DefaultOptions() Options {
	return Options{
		BatchSize:        DefaultBatchSize,
		ExternalToolPath: DefaultExternalToolPath,
		HashAlgorithm:    HashSHA256,
		CopyChunkSize:    DefaultCopyChunkSize,
	}
}

func (o *Options) setDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.ExternalToolPath == "" {
		o.ExternalToolPath = DefaultExternalToolPath
	}
	if o.HashAlgorithm == "" {
		o.HashAlgorithm = HashSHA256
	}
	if o.CopyChunkSize <= 0 {
		o.CopyChunkSize = DefaultCopyChunkSize
	}
}

// Executor produces one artifact per Execute call. It holds no per-run
// state and may be shared by the scheduler and manual runs.
type Executor struct {
	connector database.Connector
	logger    *logging.Logger
	options   Options
	now       func() time.Time
	command   CommandFactory
}

// NewExecutor creates an executor
func NewExecutor(connector database.Connector, logger *logging.Logger, options Options) *Executor {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	options.setDefaults()
	return &Executor{
		connector: connector,
		logger:    logger,
		options:   options,
		now:       time.Now,
		command:   defaultCommand,
	}
}

// Options returns the effective options
func (e *Executor) Options() Options {
	return e.options
}

// artifactPaths holds where one run writes
type artifactPaths struct {
	root     string
	stem     string
	dumpPath string
	stageDir string
	final    string
}

func (e *Executor) pathsFor(sched *schedule.Schedule, dbName string, startedAt time.Time) artifactPaths {
	root := filepath.Join(sched.OutputDirectory, sched.ArtifactDir())
	stamp := strings.Replace(startedAt.Format(artifactTimeLayout), ".", "_", 1)
	stem := fileSafe(dbName) + "_" + stamp

	p := artifactPaths{root: root, stem: stem}
	if sched.Compress {
		p.stageDir = filepath.Join(root, stem)
		p.dumpPath = filepath.Join(p.stageDir, stem+".sql")
		p.final = filepath.Join(root, stem+formatOrDefault(sched.CompressionFormat).Extension())
	} else {
		p.dumpPath = filepath.Join(root, stem+".sql")
		p.final = p.dumpPath
	}
	return p
}

func fileSafe(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, name)
}

// checkpoint is the cancel and pause point between units of work
func checkpoint(ctx context.Context, token *pause.Token) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewCanceledError(err)
	}
	return token.WaitWhilePaused(ctx)
}

// Execute runs one backup of sched against target. A canceled run returns an
// error for which errors.IsCanceled reports true. Partial artifacts are left
// on disk when the run fails or is canceled.
func (e *Executor) Execute(ctx context.Context, target Target, sched *schedule.Schedule, sink ProgressFunc, token *pause.Token) (*Result, error) {
	if sched == nil {
		return nil, apperrors.NewPreconditionError("no schedule given")
	}
	dbName := sched.DatabaseName
	if dbName == "" {
		dbName = target.Connection.Database
	}
	if dbName == "" {
		return nil, apperrors.NewPreconditionError(fmt.Sprintf("schedule %q has no target database", sched.Name))
	}
	if sink == nil {
		sink = func(Progress) {}
	}

	startedAt := e.now()
	paths := e.pathsFor(sched, dbName, startedAt)
	result := &Result{
		DatabaseName:  dbName,
		HashAlgorithm: e.options.HashAlgorithm,
		Compressed:    sched.Compress,
		StartedAt:     startedAt,
	}

	err := e.run(ctx, target.Connection.WithDatabase(dbName), sched, paths, result, sink, token)
	if err != nil && ctx.Err() != nil && !apperrors.IsCanceled(err) {
		err = apperrors.NewCanceledError(ctx.Err())
	}

	result.CompletedAt = e.now()
	e.logger.LogBackupRun(sched.Name, dbName, paths.final, result.Bytes, result.CompletedAt.Sub(startedAt), err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Executor) run(ctx context.Context, cfg database.DatabaseConfig, sched *schedule.Schedule, paths artifactPaths, result *Result, sink ProgressFunc, token *pause.Token) error {
	if err := checkpoint(ctx, token); err != nil {
		return err
	}

	if sched.Mode == schedule.ModeExternalTool {
		if err := os.MkdirAll(filepath.Dir(paths.dumpPath), 0o755); err != nil {
			return apperrors.NewStreamingError("failed to create output directory", err)
		}
		sink(Progress{Stage: StageExternal})
		if err := e.runExternal(ctx, cfg, paths.dumpPath, token); err != nil {
			return err
		}
	} else {
		sink(Progress{Stage: StageConnecting})
		conn, err := e.connector.Connect(ctx, cfg)
		if err != nil {
			if apperrors.IsCanceled(err) || apperrors.GetErrorType(err) == apperrors.ErrorTypePrecondition {
				return err
			}
			return apperrors.NewConnectionError("failed to connect to "+cfg.String(), err)
		}
		defer conn.Close()

		if err := os.MkdirAll(filepath.Dir(paths.dumpPath), 0o755); err != nil {
			return apperrors.NewStreamingError("failed to create output directory", err)
		}
		tables, rows, err := e.dumpDatabase(ctx, conn, sched.Mode, paths.dumpPath, sink, token)
		result.Tables, result.Rows = tables, rows
		if err != nil {
			return err
		}
	}

	if err := checkpoint(ctx, token); err != nil {
		return err
	}
	if sched.Compress {
		sink(Progress{Stage: StageCompressing, ProcessedTables: result.Tables, TotalTables: result.Tables, RowsWritten: result.Rows})
		if err := archiveDirectory(paths.stageDir, paths.final, sched.CompressionFormat); err != nil {
			return apperrors.NewStreamingError("failed to compress dump", err)
		}
		if err := os.RemoveAll(paths.stageDir); err != nil {
			e.logger.Debugf("failed to remove staging directory %s: %v", paths.stageDir, err)
		}
	}

	sink(Progress{Stage: StageRetention, ProcessedTables: result.Tables, TotalTables: result.Tables, RowsWritten: result.Rows})
	applyRetention(paths.root, sched.RetentionCount, e.logger)

	info, err := os.Stat(paths.final)
	if err != nil {
		return apperrors.NewStreamingError("artifact missing after backup", err)
	}
	result.Path = paths.final
	result.Bytes = info.Size()

	sink(Progress{Stage: StageHashing, ProcessedTables: result.Tables, TotalTables: result.Tables, RowsWritten: result.Rows})
	hash, err := HashFile(paths.final, e.options.HashAlgorithm)
	if err != nil {
		return apperrors.NewStreamingError("failed to hash artifact", err)
	}
	result.Hash = hash

	if sched.UploadOffsite && e.options.Uploader != nil {
		sink(Progress{Stage: StageUploading, ProcessedTables: result.Tables, TotalTables: result.Tables, RowsWritten: result.Rows})
		key := sched.ArtifactDir() + "/" + filepath.Base(paths.final)
		location, err := e.options.Uploader.Upload(ctx, paths.final, key)
		if err != nil {
			result.OffsiteError = err.Error()
			e.logger.WithContext(ctx).WithFields(map[string]interface{}{
				"schedule": sched.Name,
				"provider": e.options.Uploader.Name(),
				"error":    err.Error(),
			}).Warn("Offsite upload failed")
		} else {
			result.OffsiteLocation = location
		}
	}

	sink(Progress{Stage: StageFinished, ProcessedTables: result.Tables, TotalTables: result.Tables, RowsWritten: result.Rows})
	return nil
}

// dumpDatabase streams schema and data of every table into path
func (e *Executor) dumpDatabase(ctx context.Context, conn database.Conn, mode schedule.BackupMode, path string, sink ProgressFunc, token *pause.Token) (int, int64, error) {
	sink(Progress{Stage: StageListing})
	tables, err := conn.ListTables(ctx)
	if err != nil {
		return 0, 0, err
	}
	total := len(tables)
	sink(Progress{Stage: StageListing, TotalTables: total})

	vars, err := conn.SessionVariables(ctx)
	if err != nil {
		e.logger.Debugf("session variables unavailable: %v", err)
		vars = map[string]string{}
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, 0, apperrors.NewStreamingError("failed to create dump file", err)
	}
	closed := false
	defer func() {
		if !closed {
			f.Close()
		}
	}()

	w := newDumpWriter(f)
	w.writeHeader(vars, conn.Database(), e.now())

	var rowsWritten int64
	for i, table := range tables {
		if err := checkpoint(ctx, token); err != nil {
			return i, rowsWritten, err
		}

		progress := Progress{
			Stage:           StageCounting,
			ProcessedTables: i,
			TotalTables:     total,
			CurrentTable:    table,
			RowsWritten:     rowsWritten,
		}
		sink(progress)
		progress.CurrentTableRows = e.estimateRows(ctx, conn, mode, table)

		create, err := conn.CreateStatement(ctx, table)
		if err != nil {
			return i, rowsWritten, err
		}
		w.writeTableSchema(table, create)

		progress.Stage = StageDumping
		sink(progress)
		n, err := e.dumpTable(ctx, conn, w, table, progress, sink, token)
		rowsWritten += n
		if err != nil {
			return i, rowsWritten, err
		}
		if err := w.Err(); err != nil {
			return i, rowsWritten, apperrors.NewStreamingError("failed to write dump", err)
		}

		progress.ProcessedTables = i + 1
		progress.CurrentRows = n
		progress.CurrentTableRows = n
		progress.RowsWritten = rowsWritten
		sink(progress)
	}

	w.writeFooter(e.now())
	if err := w.Flush(); err != nil {
		return total, rowsWritten, apperrors.NewStreamingError("failed to write dump", err)
	}
	if err := f.Sync(); err != nil {
		return total, rowsWritten, apperrors.NewStreamingError("failed to sync dump file", err)
	}
	closed = true
	if err := f.Close(); err != nil {
		return total, rowsWritten, apperrors.NewStreamingError("failed to close dump file", err)
	}
	return total, rowsWritten, nil
}

// estimateRows only feeds progress display; failures count as 0
func (e *Executor) estimateRows(ctx context.Context, conn database.Conn, mode schedule.BackupMode, table string) int64 {
	var (
		n   int64
		err error
	)
	if mode == schedule.ModeFast {
		n, err = conn.ApproxRowCount(ctx, table)
	} else {
		n, err = conn.RowCount(ctx, table)
	}
	if err != nil {
		e.logger.Debugf("row count of %s unavailable: %v", table, err)
		return 0
	}
	return n
}

// dumpTable writes the table's rows in INSERT batches and returns the row count
func (e *Executor) dumpTable(ctx context.Context, conn database.Conn, w *dumpWriter, table string, progress Progress, sink ProgressFunc, token *pause.Token) (int64, error) {
	rows, err := conn.OpenCursor(ctx, table)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return 0, apperrors.WrapError(err, "failed to read column metadata of "+table)
	}
	cols := ColumnsFor(types)
	raw := make([]sql.RawBytes, len(cols))
	dest := make([]interface{}, len(cols))
	for i := range raw {
		dest[i] = &raw[i]
	}

	w.beginTableData(table)

	var (
		written int64
		inBatch int
		buf     = make([]byte, 0, 64*1024)
	)
	flush := func() error {
		if inBatch == 0 {
			return nil
		}
		w.writeInsert(table, buf)
		buf = buf[:0]
		inBatch = 0
		if err := w.Err(); err != nil {
			return apperrors.NewStreamingError("failed to write dump", err)
		}
		progress.CurrentRows = written
		sink(progress)
		return nil
	}

	base := progress.RowsWritten
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return written, apperrors.WrapError(err, "failed to read row of "+table)
		}
		if inBatch > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '(')
		for i, c := range cols {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = c.ValueOf(raw[i]).AppendSQL(buf)
		}
		buf = append(buf, ')')
		inBatch++
		written++

		if inBatch >= e.options.BatchSize {
			progress.RowsWritten = base + written
			if err := flush(); err != nil {
				return written, err
			}
			if err := checkpoint(ctx, token); err != nil {
				return written, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return written, apperrors.WrapError(err, "failed to stream rows of "+table)
	}
	progress.RowsWritten = base + written
	if err := flush(); err != nil {
		return written, err
	}

	w.endTableData(table)
	return written, nil
}
