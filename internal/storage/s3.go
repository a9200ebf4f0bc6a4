// Package storage persists finished job artifacts in S3 (or any
// S3-compatible endpoint) with optional password-based encryption.
package storage

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pbkdf2"
)

// magic prefixes password-encrypted artifacts so Download can tell
// them apart from plaintext ones.
var magic = []byte("PDFXGCM1")

const (
	saltLen    = 16
	nonceLen   = 12
	pbkdfIters = 100000
	keyLen     = 32
)

// Options configures the artifact store.
type Options struct {
	Bucket    string
	Region    string
	Endpoint  string // non-empty for S3-compatible stores (MinIO etc.)
	AccessKey string
	SecretKey string
}

// Store wraps an S3 bucket used for job artifacts.
type Store struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucket     string
}

// New builds the store. With an Endpoint and static keys set it talks
// to an S3-compatible server; otherwise the default AWS chain applies.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("storage: bucket required")
	}

	var loadOpts []func(*awscfg.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Store{
		client:     cli,
		uploader:   manager.NewUploader(cli),
		downloader: manager.NewDownloader(cli),
		bucket:     opts.Bucket,
	}, nil
}

// UploadFile stores a local file under key. A non-empty password
// encrypts the artifact with AES-GCM using a PBKDF2-derived key.
func (s *Store) UploadFile(ctx context.Context, key, path, password string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}
	return s.Upload(ctx, key, data, password)
}

// Upload stores bytes under key, encrypting when password is set.
func (s *Store) Upload(ctx context.Context, key string, data []byte, password string) error {
	body := data
	encrypted := false
	if password != "" {
		sealed, err := seal(data, password)
		if err != nil {
			return fmt.Errorf("encrypt artifact: %w", err)
		}
		body = sealed
		encrypted = true
	}

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
		Metadata: map[string]string{
			"encrypted": fmt.Sprintf("%t", encrypted),
		},
	})
	if err != nil {
		return fmt.Errorf("upload to s3: %w", err)
	}
	log.Info().Str("key", key).Int("bytes", len(body)).Bool("encrypted", encrypted).Msg("uploaded artifact")
	return nil
}

// Download fetches an object, decrypting it when it carries the
// encrypted-artifact magic and a password is supplied.
func (s *Store) Download(ctx context.Context, key, password string) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(nil)
	_, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("download from s3: %w", err)
	}
	data := buf.Bytes()

	if len(data) >= len(magic) && bytes.Equal(data[:len(magic)], magic) {
		plain, err := unseal(data, password)
		if err != nil {
			return nil, fmt.Errorf("decrypt artifact: %w", err)
		}
		return plain, nil
	}
	return data, nil
}

// FetchToTemp downloads an object to a temp file and returns its path.
// Used to resolve s3:// source references for async jobs.
func (s *Store) FetchToTemp(ctx context.Context, key, password string) (string, error) {
	data, err := s.Download(ctx, key, password)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp("", "s3src-*.pdf")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// seal produces magic + salt + nonce + AES-GCM(ciphertext||tag).
func seal(data []byte, password string) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(magic)+saltLen+nonceLen+len(data)+gcm.Overhead())
	out = append(out, magic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, data, nil), nil
}

func unseal(data []byte, password string) ([]byte, error) {
	header := len(magic) + saltLen + nonceLen
	if len(data) < header {
		return nil, fmt.Errorf("encrypted artifact too short: %d bytes", len(data))
	}
	salt := data[len(magic) : len(magic)+saltLen]
	nonce := data[len(magic)+saltLen : header]

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, data[header:], nil)
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, pbkdfIters, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
