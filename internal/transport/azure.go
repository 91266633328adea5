package transport

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	nethttp "net/http"
	"path"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"

	"github.com/rescale/chunkup/internal/config"
	"github.com/rescale/chunkup/internal/constants"
	"github.com/rescale/chunkup/internal/logging"
)

// Azure stages each chunk as an uncommitted block of a block blob and commits
// the block list in index order on Complete. Uncommitted blocks expire on
// their own, so Abort does nothing.
type Azure struct {
	client    *azblob.Client
	container string
	prefix    string
	log       *logging.Logger
}

// NewAzure builds a blob client from a SAS URL using the shared HTTP client.
func NewAzure(cfg config.AzureConfig, httpClient *nethttp.Client, log *logging.Logger) (*Azure, error) {
	if cfg.SASURL == "" || cfg.Container == "" {
		return nil, fmt.Errorf("azure transport: %w", config.ErrMissingSASURL)
	}
	if log == nil {
		log = logging.Nop()
	}

	opts := &azblob.ClientOptions{}
	if httpClient != nil {
		opts.ClientOptions = azcore.ClientOptions{Transport: httpClient}
	}
	client, err := azblob.NewClientWithNoCredential(cfg.SASURL, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	return &Azure{client: client, container: cfg.Container, prefix: cfg.BlobPrefix, log: log}, nil
}

func (t *Azure) Name() string { return "azure" }

func (t *Azure) blobClient(sessionID, fileName string) *blockblob.Client {
	blobPath := path.Join(t.prefix, sessionID, fileName)
	return t.client.ServiceClient().NewContainerClient(t.container).NewBlockBlobClient(blobPath)
}

// blockID returns the base64 block ID for a chunk. All IDs of a blob must
// have the same length before encoding.
func blockID(index int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("block-%010d", index)))
}

func (t *Azure) Transmit(ctx context.Context, body io.Reader, meta ChunkMeta, onProgress ProgressFunc) error {
	rs, err := asReadSeeker(body)
	if err != nil {
		return cancelled(ctx, fmt.Errorf("read chunk %d: %w", meta.Index, err))
	}

	blockCtx, cancel := context.WithTimeout(ctx, constants.ChunkRequestTimeout)
	defer cancel()

	pr := newProgressReader(rs, meta.Size(), onProgress)
	bb := t.blobClient(meta.SessionID, meta.FileName)
	if _, err := bb.StageBlock(blockCtx, blockID(meta.Index), &readSeekCloser{ReadSeeker: pr}, nil); err != nil {
		return cancelled(ctx, fmt.Errorf("failed to stage block %d: %w", meta.Index, err))
	}
	return nil
}

// Begin is a no-op; blocks can be staged against a blob that does not exist yet.
func (t *Azure) Begin(ctx context.Context, file FileMeta) error { return nil }

// Complete commits blocks 0..Chunks-1.
func (t *Azure) Complete(ctx context.Context, file FileMeta) error {
	ids := make([]string, file.Chunks)
	for i := range ids {
		ids[i] = blockID(i)
	}
	bb := t.blobClient(file.SessionID, file.FileName)
	_, err := bb.CommitBlockList(ctx, ids, &blockblob.CommitBlockListOptions{
		Metadata: map[string]*string{"contentdigest": &file.Digest},
	})
	if err != nil {
		return fmt.Errorf("failed to commit block list: %w", err)
	}
	return nil
}

// Abort is a no-op; uncommitted blocks are garbage collected by the service.
func (t *Azure) Abort(ctx context.Context, file FileMeta) error { return nil }

// readSeekCloser adds a no-op Close so a body can be passed to StageBlock.
type readSeekCloser struct {
	io.ReadSeeker
}

func (rsc *readSeekCloser) Close() error { return nil }
