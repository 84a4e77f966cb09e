package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/eteran/objstore/pkg/auth"
	"github.com/eteran/objstore/pkg/core"
	"github.com/eteran/objstore/pkg/objpath"
	"github.com/eteran/objstore/pkg/storage"
)

// getenv returns the value of the environment variable named by key or
// fallback if the variable is not present.
func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

const (
	BucketName      = "example-bucket"
	ObjectName      = "example.txt"
	ObjectContent   = "Hello from the objstore example!\n"
	NestedObjectKey = "home/eteran/documents/report.txt"
	MultipartKey    = "multipart-object.bin"
)

// EnsureBucket checks if a bucket exists, and creates it if it does not.
// Bucket management is outside the object client, so this uses minio-go.
func EnsureBucket(ctx context.Context, client *minio.Client, bucketName string) error {
	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %q: %w", bucketName, err)
		}
	}
	return nil
}

// ListBucketObjects logs every object in the bucket.
func ListBucketObjects(ctx context.Context, client *core.Client) error {
	objects, err := client.ListAll(ctx, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to list objects: %w", err)
	}
	for _, obj := range objects {
		slog.Info("Object in bucket", "key", obj.Location.String(), "size", obj.Size)
	}
	return nil
}

func MultipartUploadExample(ctx context.Context, client *core.Client) error {
	upload, err := client.CreateMultipart(ctx, objpath.MustParse(MultipartKey))
	if err != nil {
		return fmt.Errorf("failed to initiate multipart upload: %w", err)
	}

	log := slog.With("key", MultipartKey, "upload_id", upload.ID())
	log.Info("Started multipart upload")

	// Every part but the last must be at least 5 MiB.
	partData := [][]byte{
		bytes.Repeat([]byte("AAAA"), 5*256*1024),
		bytes.Repeat([]byte("BBBB"), 5*256*1024),
		bytes.Repeat([]byte("CCCC"), 128*1024), // smaller last part
	}

	var parts []core.UploadPart
	totalLength := 0

	for i, data := range partData {
		part, err := upload.PutPart(ctx, i, data)
		if err != nil {
			return fmt.Errorf("failed to upload part %d: %w", i+1, err)
		}
		parts = append(parts, part)
		totalLength += len(data)
	}

	if err := upload.Complete(ctx, parts); err != nil {
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}

	log.Info("Completed multipart upload", "total_size", totalLength)
	return nil
}

func Run(ctx context.Context, client *core.Client) error {
	// 1. Upload an example.txt file.
	if err := storage.WriteObject(ctx, client, objpath.MustParse(ObjectName), []byte(ObjectContent)); err != nil {
		return fmt.Errorf("failed to upload example file: %w", err)
	}
	slog.Info("Uploaded object", "key", ObjectName)

	// 2. Upload a nested object through the streaming multipart helper.
	n, err := storage.Upload(ctx, client, objpath.MustParse(NestedObjectKey), strings.NewReader(strings.Repeat(ObjectContent, 64)), storage.UploadOptions{})
	if err != nil {
		return fmt.Errorf("failed to upload nested file: %w", err)
	}
	slog.Info("Uploaded object", "key", NestedObjectKey, "size", n)

	// 3. List the contents of the bucket.
	if err := ListBucketObjects(ctx, client); err != nil {
		return fmt.Errorf("failed to list bucket objects: %w", err)
	}

	// 4. Download the file.
	data, err := storage.ReadObject(ctx, client, objpath.MustParse(ObjectName))
	if err != nil {
		return fmt.Errorf("failed to download file: %w", err)
	}
	slog.Info("Downloaded object", "key", ObjectName, "content", strings.TrimSpace(string(data)))

	// 5. Copy the object within the bucket.
	if err := client.Copy(ctx, objpath.MustParse(ObjectName), objpath.MustParse("some/path/example copy.txt")); err != nil {
		return fmt.Errorf("failed to copy object within bucket: %w", err)
	}
	slog.Info("Copied object", "from", ObjectName, "to", "some/path/example copy.txt")

	// 6. List only the top level.
	result, _, err := client.List(ctx, nil, true, "", "")
	if err != nil {
		return fmt.Errorf("failed to list top level: %w", err)
	}
	for _, prefix := range result.CommonPrefixes {
		slog.Info("Directory in bucket", "prefix", prefix.String())
	}

	// 7. Demonstrate a multipart upload part by part.
	if err := MultipartUploadExample(ctx, client); err != nil {
		return fmt.Errorf("failed to run multipart upload example: %w", err)
	}

	// 8. Delete the copy.
	if err := client.Delete(ctx, objpath.MustParse("some/path/example copy.txt"), nil); err != nil {
		return fmt.Errorf("failed to delete copy: %w", err)
	}

	return nil
}

func main() {
	endpoint := getenv("OBJSTORE_ENDPOINT", "localhost:9000")
	accessKey := getenv("OBJSTORE_ACCESS_KEY", "minioadmin")
	secretKey := getenv("OBJSTORE_SECRET_KEY", "minioadmin")

	ctx := context.Background()

	admin, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: false,
	})
	if err != nil {
		slog.Error("failed to create MinIO client", "err", err)
		os.Exit(1)
	}
	if err := EnsureBucket(ctx, admin, BucketName); err != nil {
		slog.Error("failed to ensure bucket exists", "err", err)
		os.Exit(1)
	}

	client, err := core.NewClient(core.NewConfig(BucketName,
		core.WithEndpoint("http://"+endpoint),
		core.WithCredentials(auth.NewStaticMinio(accessKey, secretKey, "")),
	))
	if err != nil {
		slog.Error("failed to create client", "err", err)
		os.Exit(1)
	}

	if err := Run(ctx, client); err != nil {
		slog.Error("error running example", "err", err)
		os.Exit(1)
	}
}
