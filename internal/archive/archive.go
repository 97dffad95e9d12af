// Package archive exports stored audit entries to S3 as gzip-compressed
// JSON lines or CSV.
package archive

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"

	"sar/internal/apperr"
	"sar/internal/model"
)

type Format string

const (
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatJSONL:
		return FormatJSONL, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", apperr.Invalid("format", "must be jsonl or csv")
}

func (f Format) contentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/x-ndjson"
}

// Source streams audit entries with from <= timestamp < to.
type Source interface {
	AuditRange(ctx context.Context, from, to time.Time, fn func(model.AuditLogEntry) error) error
}

// Uploader is the subset of *s3.Client the exporter calls.
type Uploader interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Result struct {
	Bucket  string `json:"bucket"`
	Key     string `json:"key"`
	Format  Format `json:"format"`
	Entries int    `json:"entries"`
	Bytes   int64  `json:"bytes"`
}

type Exporter struct {
	src    Source
	up     Uploader
	bucket string
	prefix string
	log    logrus.FieldLogger
}

func NewExporter(src Source, up Uploader, bucket, prefix string, logger logrus.FieldLogger) (*Exporter, error) {
	if src == nil || up == nil {
		return nil, fmt.Errorf("archive: source and uploader are required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}
	return &Exporter{
		src:    src,
		up:     up,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		log:    logger.WithField("component", "archive"),
	}, nil
}

// Key names the object for a range: <prefix>/audit-<from>-<to>.<ext>.gz
func (e *Exporter) Key(from, to time.Time, f Format) string {
	name := fmt.Sprintf("audit-%s-%s.%s.gz", from.UTC().Format("20060102T150405Z"), to.UTC().Format("20060102T150405Z"), f)
	if e.prefix == "" {
		return name
	}
	return path.Join(e.prefix, name)
}

// Export uploads every entry in [from, to) as one object.
func (e *Exporter) Export(ctx context.Context, from, to time.Time, f Format) (Result, error) {
	if !to.After(from) {
		return Result{}, apperr.Invalid("to", "must be after from")
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := newEncoder(f, gz)
	count := 0
	err := e.src.AuditRange(ctx, from, to, func(entry model.AuditLogEntry) error {
		count++
		return enc.write(entry)
	})
	if err != nil {
		return Result{}, fmt.Errorf("archive.Export read: %w", err)
	}
	if err := enc.close(); err != nil {
		return Result{}, fmt.Errorf("archive.Export encode: %w", err)
	}
	if err := gz.Close(); err != nil {
		return Result{}, fmt.Errorf("archive.Export compress: %w", err)
	}

	res := Result{Bucket: e.bucket, Key: e.Key(from, to, f), Format: f, Entries: count, Bytes: int64(buf.Len())}
	_, err = e.up.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(res.Bucket),
		Key:             aws.String(res.Key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentLength:   aws.Int64(res.Bytes),
		ContentType:     aws.String(f.contentType()),
		ContentEncoding: aws.String("gzip"),
		Metadata: map[string]string{
			"entries": strconv.Itoa(count),
			"from":    from.UTC().Format(time.RFC3339),
			"to":      to.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("archive.Export upload: %w", err)
	}

	e.log.WithFields(logrus.Fields{
		"key":     res.Key,
		"entries": res.Entries,
		"bytes":   res.Bytes,
	}).Info("audit archive uploaded")
	return res, nil
}

type encoder interface {
	write(model.AuditLogEntry) error
	close() error
}

func newEncoder(f Format, w io.Writer) encoder {
	if f == FormatCSV {
		cw := csv.NewWriter(w)
		return &csvEncoder{w: cw}
	}
	return &jsonlEncoder{enc: json.NewEncoder(w)}
}

type jsonlEncoder struct {
	enc *json.Encoder
}

func (j *jsonlEncoder) write(e model.AuditLogEntry) error { return j.enc.Encode(e) }
func (j *jsonlEncoder) close() error                      { return nil }

var csvHeader = []string{
	"id", "requestId", "sessionId", "timestamp", "userId", "userName", "userRole", "action", "module",
	"description", "outcome", "errorCode", "errorMessage", "location", "userAgent", "ipAddress",
}

type csvEncoder struct {
	w      *csv.Writer
	header bool
}

func (c *csvEncoder) write(e model.AuditLogEntry) error {
	if !c.header {
		c.header = true
		if err := c.w.Write(csvHeader); err != nil {
			return err
		}
	}
	return c.w.Write([]string{
		strconv.FormatInt(e.ID, 10), e.RequestID, e.SessionID, e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.UserID, e.UserName, e.UserRole, string(e.Action), e.Module, e.Description, string(e.Outcome),
		e.ErrorCode, e.ErrorMessage, e.Location, e.UserAgent, e.IPAddress,
	})
}

func (c *csvEncoder) close() error {
	if !c.header {
		c.header = true
		if err := c.w.Write(csvHeader); err != nil {
			return err
		}
	}
	c.w.Flush()
	return c.w.Error()
}
