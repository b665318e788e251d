package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "whalewatch/config"
	"whalewatch/logger"
	"whalewatch/models"
)

// archiveRecord is the parquet row schema for archived whale events.
type archiveRecord struct {
	UID         string  `parquet:"name=uid, type=BYTE_ARRAY, convertedtype=UTF8"`
	Exchange    string  `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	Address     string  `parquet:"name=address, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol      string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Action      string  `parquet:"name=action, type=BYTE_ARRAY, convertedtype=UTF8"`
	Size        float64 `parquet:"name=size, type=DOUBLE"`
	NotionalUSD float64 `parquet:"name=notional_usd, type=DOUBLE"`
	EntryPrice  float64 `parquet:"name=entry_price, type=DOUBLE"`
	MarkPrice   float64 `parquet:"name=mark_price, type=DOUBLE"`
	ExecutedAt  int64   `parquet:"name=executed_at, type=INT64"`
}

// ArchiveWriter persists every published batch as a parquet object in S3,
// partitioned by UTC date. The archive is best effort: a failed upload is
// logged and the batch is dropped, it never blocks alerts or the ledger.
type ArchiveWriter struct {
	config   appconfig.S3Config
	s3Client *s3.Client
	log      *logger.Log
}

func NewArchiveWriter(cfg *appconfig.Config) (*ArchiveWriter, error) {
	log := logger.GetLogger()

	ctx := context.Background()

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Storage.S3.Region),
	}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	aw := &ArchiveWriter{
		config:   cfg.Storage.S3,
		s3Client: s3.NewFromConfig(awsConfig),
		log:      log,
	}

	log.WithComponent("archive_writer").WithFields(logger.Fields{
		"bucket": cfg.Storage.S3.Bucket,
		"region": cfg.Storage.S3.Region,
		"prefix": cfg.Storage.S3.Prefix,
	}).Info("archive writer initialized")

	return aw, nil
}

// Archive writes the batch as one parquet object.
func (w *ArchiveWriter) Archive(ctx context.Context, batch []models.PublishedEvent) error {
	if len(batch) == 0 {
		return nil
	}

	log := w.log.WithComponent("archive_writer").WithFields(logger.Fields{
		"events": len(batch),
	})

	data, err := w.createParquetFile(batch)
	if err != nil {
		return err
	}

	key := w.objectKey(time.Now().UTC())
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	}

	if _, err := w.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", w.config.Bucket, err)
	}

	logger.IncrementArchiveWrite(int64(len(data)))
	log.WithFields(logger.Fields{
		"key":       key,
		"file_size": len(data),
	}).Info("batch archived")
	return nil
}

func (w *ArchiveWriter) createParquetFile(batch []models.PublishedEvent) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := writer.NewParquetWriter(fw, new(archiveRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, pe := range batch {
		evt := pe.Event
		record := archiveRecord{
			UID:         pe.UID,
			Exchange:    evt.Exchange,
			Address:     evt.Address,
			Symbol:      evt.Symbol,
			Action:      string(evt.Action),
			Size:        evt.Size,
			NotionalUSD: evt.Notional,
			EntryPrice:  evt.EntryPrice,
			ExecutedAt:  evt.ExecutedAt.UnixMilli(),
		}
		if evt.MarkPrice != nil {
			record.MarkPrice = *evt.MarkPrice
		}

		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}

	return fw.Bytes(), nil
}

func (w *ArchiveWriter) objectKey(now time.Time) string {
	filename := fmt.Sprintf("%s_%s.parquet",
		now.Format("20060102T150405Z"),
		uuid.New().String()[:8])
	return path.Join(w.config.Prefix, now.Format("2006-01-02"), filename)
}

// memoryFileWriter adapts a byte buffer to the parquet source interface so
// files can be assembled in memory before upload.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{
		buffer: &bytes.Buffer{},
	}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}
