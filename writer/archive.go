// Package writer archives finder runs to S3 as Parquet objects.
package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go/parquet"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	"bestprice/config"
	"bestprice/finder"
	"bestprice/internal/metrics"
	"bestprice/logger"
)

// ParquetRecord is one shop's outcome within a run.
type ParquetRecord struct {
	RunID        string  `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Strategy     string  `parquet:"name=strategy, type=BYTE_ARRAY, convertedtype=UTF8"`
	Product      string  `parquet:"name=product, type=BYTE_ARRAY, convertedtype=UTF8"`
	Position     int32   `parquet:"name=position, type=INT32"`
	Shop         string  `parquet:"name=shop, type=BYTE_ARRAY, convertedtype=UTF8"`
	RawQuote     string  `parquet:"name=raw_quote, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price        float64 `parquet:"name=price, type=DOUBLE"`
	DiscountCode string  `parquet:"name=discount_code, type=BYTE_ARRAY, convertedtype=UTF8"`
	Result       string  `parquet:"name=result, type=BYTE_ARRAY, convertedtype=UTF8"`
	Error        string  `parquet:"name=error, type=BYTE_ARRAY, convertedtype=UTF8"`
	StartedAt    int64   `parquet:"name=started_at, type=INT64"`
	FinishedAt   int64   `parquet:"name=finished_at, type=INT64"`
}

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ResultArchive uploads every run it is given as a single Parquet object.
type ResultArchive struct {
	config *config.Config
	s3     objectPutter
	log    *logger.Log
}

// NewResultArchive builds the S3 client from the storage settings. Static
// credentials are used when configured, otherwise the default chain.
func NewResultArchive(ctx context.Context, cfg *config.Config) (*ResultArchive, error) {
	log := logger.GetLogger()

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Storage.S3.Region),
	}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	log.WithComponent("archive").WithFields(logger.Fields{
		"bucket":     cfg.Storage.S3.Bucket,
		"region":     cfg.Storage.S3.Region,
		"endpoint":   cfg.Storage.S3.Endpoint,
		"path_style": cfg.Storage.S3.PathStyle,
	}).Info("result archive initialized")

	return newResultArchive(cfg, client, log), nil
}

func newResultArchive(cfg *config.Config, putter objectPutter, log *logger.Log) *ResultArchive {
	if log == nil {
		log = logger.GetLogger()
	}
	return &ResultArchive{config: cfg, s3: putter, log: log}
}

// Archive encodes run and uploads it, returning the object key.
func (a *ResultArchive) Archive(ctx context.Context, run *finder.Run) (string, error) {
	if run == nil || len(run.Results) == 0 {
		return "", errors.New("nothing to archive")
	}

	data, err := a.createParquetFile(run)
	if err != nil {
		metrics.ReportArchive(a.log, string(run.Strategy), 0, err)
		return "", err
	}

	key := a.generateS3Key(run)
	if err := a.uploadToS3(ctx, key, run, data); err != nil {
		metrics.ReportArchive(a.log, string(run.Strategy), 0, err)
		return "", err
	}

	metrics.ReportArchive(a.log, string(run.Strategy), int64(len(data)), nil)
	logger.LogDataFlowEntry(a.log.WithComponent("archive"), "finder", "s3", len(run.Results), "parquet")
	return key, nil
}

func (a *ResultArchive) generateS3Key(run *finder.Run) string {
	ts := run.StartedAt.UTC()
	product := sanitizeKeyPart(run.Product)

	var parts []string
	for _, k := range a.config.Writer.Partitioning.AdditionalKeys {
		switch k {
		case "product":
			parts = append(parts, "product="+product)
		case "strategy":
			parts = append(parts, "strategy="+string(run.Strategy))
		}
	}

	timePath := a.config.Writer.Partitioning.TimeFormat
	timePath = strings.ReplaceAll(timePath, "{year}", fmt.Sprintf("%04d", ts.Year()))
	timePath = strings.ReplaceAll(timePath, "{month}", fmt.Sprintf("%02d", ts.Month()))
	timePath = strings.ReplaceAll(timePath, "{day}", fmt.Sprintf("%02d", ts.Day()))
	timePath = strings.ReplaceAll(timePath, "{hour}", fmt.Sprintf("%02d", ts.Hour()))
	if timePath != "" {
		parts = append(parts, timePath)
	}

	filename := fmt.Sprintf("%s_%s_%s.parquet", product, run.Strategy, ts.Format("20060102150405"))
	return path.Join(append(parts, filename)...)
}

func (a *ResultArchive) createParquetFile(run *finder.Run) ([]byte, error) {
	start := time.Now()
	compression := a.config.Writer.Formats.Parquet.Compression

	fw := newMemoryFile()
	pw, err := pqwriter.NewParquetWriter(fw, new(ParquetRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for i, r := range run.Results {
		record := ParquetRecord{
			RunID:        run.ID,
			Strategy:     string(run.Strategy),
			Product:      run.Product,
			Position:     int32(i),
			Shop:         r.Shop,
			RawQuote:     r.Raw,
			Price:        r.Quote.Price,
			DiscountCode: string(r.Quote.DiscountCode),
			Result:       r.Text,
			StartedAt:    run.StartedAt.UnixMilli(),
			FinishedAt:   run.FinishedAt.UnixMilli(),
		}
		if r.Err != nil {
			record.Error = r.Err.Error()
		}
		if err := pw.Write(record); err != nil {
			_ = pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}

	data := fw.Bytes()
	logger.LogPerformanceEntry(a.log.WithComponent("archive"), "archive", "create_parquet_file", time.Since(start), logger.Fields{
		"rows":        len(run.Results),
		"file_size":   len(data),
		"compression": compression,
	})
	return data, nil
}

func (a *ResultArchive) uploadToS3(ctx context.Context, key string, run *finder.Run, data []byte) error {
	bucket := a.config.Storage.S3.Bucket
	input := &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":      "parquet",
			"compression":       a.config.Writer.Formats.Parquet.Compression,
			"run-id":            run.ID,
			"bestprice-version": a.config.App.Version,
		},
	}

	if _, err := a.s3.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", bucket, err)
	}

	a.log.WithComponent("archive").WithFields(logger.Fields{
		"key":       key,
		"data_size": len(data),
	}).Info("run archived to S3")
	return nil
}

func sanitizeKeyPart(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ', '=':
			return '_'
		}
		return r
	}, s)
}
