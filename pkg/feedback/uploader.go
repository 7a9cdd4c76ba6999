package feedback

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// FeedbackRecord describes a stored clip.
type FeedbackRecord struct {
	StudentID    string
	Key          string
	ContentType  string
	CacheControl string
	Size         int64
	UpdatedAt    time.Time
	URL          string
}

// Uploader persists a finished recording for a student.
type Uploader interface {
	Upload(ctx context.Context, studentID string, artifact *AudioArtifact) (*FeedbackRecord, error)
}

// Fetcher finds the current clip for a student.
type Fetcher interface {
	Lookup(ctx context.Context, studentID string) (*FeedbackRecord, error)
	Download(ctx context.Context, studentID string) (*AudioArtifact, *FeedbackRecord, error)
}

// S3API is the subset of *s3.Client used here.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Presigner is the subset of *s3.PresignClient used here.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// ValidateStudentID rejects IDs that are empty or would escape the key
// prefix.
func ValidateStudentID(studentID string) error {
	trimmed := strings.TrimSpace(studentID)
	if trimmed == "" || trimmed != studentID {
		return NewInvalidStudentError(studentID)
	}
	if strings.ContainsAny(studentID, "/\\") || strings.Contains(studentID, "..") {
		return NewInvalidStudentError(studentID)
	}
	return nil
}

// FeedbackKey returns "<prefix>/<studentID>.<ext>".
func FeedbackKey(prefix, studentID, ext string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return prefix + "/" + studentID + "." + strings.TrimPrefix(ext, ".")
}

// NewS3Client builds an S3 client from config. Static credentials are used
// when both keys are set, otherwise the default chain. Retries are
// disabled: an upload failure is reported to the user, who retries.
func NewS3Client(ctx context.Context, cfg *FeedbackConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryMaxAttempts(1),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, NewConfigError("failed to load AWS configuration").withCause(err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != nil {
			o.BaseEndpoint = aws.String(*cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Uploader writes clips to an S3 bucket. Each student has one key; the
// last write wins.
type S3Uploader struct {
	client     S3API
	bucket     string
	prefix     string
	cache      string
	extensions []string
	logger     *FeedbackLogger
}

func NewS3Uploader(client S3API, cfg *FeedbackConfig) *S3Uploader {
	return &S3Uploader{
		client:     client,
		bucket:     cfg.Bucket,
		prefix:     cfg.KeyPrefix,
		cache:      cfg.CacheControl,
		extensions: KnownExtensions(cfg.MimePreferences),
		logger:     GetGlobalLogger().WithComponent("S3Uploader"),
	}
}

func (u *S3Uploader) Upload(ctx context.Context, studentID string, artifact *AudioArtifact) (*FeedbackRecord, error) {
	if err := ValidateStudentID(studentID); err != nil {
		return nil, err
	}
	if err := artifact.Validate(); err != nil {
		return nil, err
	}

	ext := artifact.Extension()
	key := FeedbackKey(u.prefix, studentID, ext)
	cacheControl := u.cache
	if cacheControl == "" {
		cacheControl = DefaultCacheControl
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          artifact.Reader(),
		ContentLength: aws.Int64(int64(artifact.Size())),
		ContentType:   aws.String(artifact.MimeType),
		CacheControl:  aws.String(cacheControl),
		Metadata: map[string]string{
			"student-id":      studentID,
			"elapsed-seconds": strconv.Itoa(artifact.ElapsedSeconds),
			"session-id":      artifact.SessionID,
		},
	}

	start := time.Now()
	if _, err := u.client.PutObject(ctx, input); err != nil {
		return nil, NewUploadError("failed to upload feedback", err).
			AddDetail("key", key).
			AddDetail("bucket", u.bucket)
	}

	u.logger.LogUploadEvent("put_object", key, map[string]interface{}{
		"bytes":        artifact.Size(),
		"content_type": artifact.MimeType,
		"duration_ms":  time.Since(start).Milliseconds(),
	})

	u.removeSiblings(ctx, studentID, ext)

	return &FeedbackRecord{
		StudentID:    studentID,
		Key:          key,
		ContentType:  artifact.MimeType,
		CacheControl: cacheControl,
		Size:         int64(artifact.Size()),
		UpdatedAt:    time.Now(),
	}, nil
}

// removeSiblings deletes clips of the same student stored under other
// extensions. Failures are logged only.
func (u *S3Uploader) removeSiblings(ctx context.Context, studentID, keep string) {
	for _, ext := range u.extensions {
		if ext == keep {
			continue
		}
		key := FeedbackKey(u.prefix, studentID, ext)
		_, err := u.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(u.bucket),
			Key:    aws.String(key),
		})
		if err != nil && !isNotFound(err) {
			u.logger.WithError(err).WithField("key", key).Warn("Failed to remove stale feedback clip")
		}
	}
}

// S3Fetcher reads clips back from the bucket.
type S3Fetcher struct {
	client     S3API
	presigner  Presigner
	bucket     string
	prefix     string
	ttl        time.Duration
	extensions []string
	logger     *FeedbackLogger
}

// NewS3Fetcher builds a fetcher. presigner may be nil, in which case
// records carry no URL.
func NewS3Fetcher(client S3API, presigner Presigner, cfg *FeedbackConfig) *S3Fetcher {
	return &S3Fetcher{
		client:     client,
		presigner:  presigner,
		bucket:     cfg.Bucket,
		prefix:     cfg.KeyPrefix,
		ttl:        cfg.PresignTTL,
		extensions: KnownExtensions(cfg.MimePreferences),
		logger:     GetGlobalLogger().WithComponent("S3Fetcher"),
	}
}

// Lookup finds the newest clip for studentID and presigns a GET for it.
func (f *S3Fetcher) Lookup(ctx context.Context, studentID string) (*FeedbackRecord, error) {
	if err := ValidateStudentID(studentID); err != nil {
		return nil, err
	}

	var found *FeedbackRecord
	for _, ext := range f.extensions {
		key := FeedbackKey(f.prefix, studentID, ext)
		out, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(f.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, NewPlaybackError("failed to look up feedback").withCause(err).AddDetail("key", key)
		}

		rec := &FeedbackRecord{
			StudentID:    studentID,
			Key:          key,
			ContentType:  aws.ToString(out.ContentType),
			CacheControl: aws.ToString(out.CacheControl),
			Size:         aws.ToInt64(out.ContentLength),
			UpdatedAt:    aws.ToTime(out.LastModified),
		}
		if rec.ContentType == "" {
			rec.ContentType = MimeTypeForExtension(ext)
		}
		if found == nil || rec.UpdatedAt.After(found.UpdatedAt) {
			found = rec
		}
	}
	if found == nil {
		return nil, NewNotFoundError(studentID)
	}

	if f.presigner != nil {
		req, err := f.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(f.bucket),
			Key:    aws.String(found.Key),
		}, s3.WithPresignExpires(f.ttl))
		if err != nil {
			return nil, NewPlaybackError("failed to presign feedback url").withCause(err).AddDetail("key", found.Key)
		}
		found.URL = req.URL
	}

	f.logger.LogUploadEvent("lookup", found.Key, map[string]interface{}{
		"bytes":      found.Size,
		"updated_at": found.UpdatedAt,
	})
	return found, nil
}

// Download returns the current clip as an artifact for local playback.
func (f *S3Fetcher) Download(ctx context.Context, studentID string) (*AudioArtifact, *FeedbackRecord, error) {
	rec, err := f.Lookup(ctx, studentID)
	if err != nil {
		return nil, nil, err
	}

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(rec.Key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil, NewNotFoundError(studentID)
		}
		return nil, nil, NewPlaybackError("failed to download feedback").withCause(err).AddDetail("key", rec.Key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, nil, NewPlaybackError("failed to read feedback").withCause(err).AddDetail("key", rec.Key)
	}

	artifact := NewAudioArtifact(data, rec.ContentType)
	if secs, err := strconv.Atoi(out.Metadata["elapsed-seconds"]); err == nil {
		artifact.ElapsedSeconds = secs
	}
	artifact.SessionID = out.Metadata["session-id"]
	return artifact, rec, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "404":
			return true
		}
	}
	return false
}
