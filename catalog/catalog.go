/*
Package catalog serves book reads: the visible list, book detail and the
download of purchased content.

VISIBILITY:
  Restricted books are hidden from restricted users in both the list and
  detail views; detail answers NotFound rather than Forbidden so their
  existence is not revealed.

DOWNLOAD:
  Requires a purchase record for (user, book), and for a restricted book
  the user's RestrictedAccess grant. Content is read from a ContentStore
  by the book's ContentRef.
*/
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/warp/bookstore-engine/commerce"
)

// =============================================================================
// CONTENT STORE
// =============================================================================

// ContentStore opens book files by reference.
type ContentStore interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// FSContent reads PDF files from a filesystem.
type FSContent struct {
	fsys fs.FS
}

// NewDirContent serves files below dir.
func NewDirContent(dir string) *FSContent {
	return &FSContent{fsys: os.DirFS(dir)}
}

// NewFSContent serves files from fsys (fstest.MapFS in tests).
func NewFSContent(fsys fs.FS) *FSContent {
	return &FSContent{fsys: fsys}
}

func (c *FSContent) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	ref = strings.TrimPrefix(path.Clean("/"+ref), "/")
	if !fs.ValidPath(ref) || ref == "." {
		return nil, &commerce.ValidationError{Field: "content_ref", Message: "invalid path"}
	}
	if !strings.EqualFold(path.Ext(ref), ".pdf") {
		return nil, &commerce.ValidationError{Field: "content_ref", Message: "only PDF files are served"}
	}
	f, err := c.fsys.Open(ref)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &commerce.NotFoundError{Kind: "content", ID: ref}
		}
		return nil, fmt.Errorf("failed to open content %s: %w", ref, err)
	}
	return f, nil
}

// =============================================================================
// SERVICE
// =============================================================================

// Filter narrows the book list.
type Filter struct {
	Category string
}

// Service answers catalog reads for a user.
type Service struct {
	store   commerce.Store
	content ContentStore
	policy  commerce.AccessPolicy
	log     *zap.Logger
}

func NewService(store commerce.Store, content ContentStore, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, content: content, log: log.Named("catalog")}
}

// List returns the books the user may view.
func (s *Service) List(ctx context.Context, userID commerce.UserID, f Filter) ([]commerce.Book, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	books, err := s.store.ListBooks(ctx)
	if err != nil {
		return nil, err
	}

	visible := s.policy.Visible(user, books)
	if f.Category == "" {
		return visible, nil
	}
	out := visible[:0]
	for _, b := range visible {
		if strings.EqualFold(b.Category, f.Category) {
			out = append(out, b)
		}
	}
	return out, nil
}

// Get returns one book if the user may view it.
func (s *Service) Get(ctx context.Context, userID commerce.UserID, bookID commerce.BookID) (*commerce.Book, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	book, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if !s.policy.CanView(user, book) {
		return nil, &commerce.NotFoundError{Kind: "book", ID: string(bookID)}
	}
	return book, nil
}

// Download opens the content of a purchased book. The caller closes the reader.
func (s *Service) Download(ctx context.Context, userID commerce.UserID, bookID commerce.BookID) (io.ReadCloser, *commerce.Book, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	book, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, nil, err
	}
	purchase, err := s.store.FindPurchase(ctx, userID, bookID)
	if err != nil {
		return nil, nil, err
	}
	if !s.policy.CanDownload(user, book, purchase) {
		return nil, nil, &commerce.AuthorizationError{UserID: userID, BookID: bookID, Action: "download"}
	}
	if book.ContentRef == "" {
		return nil, nil, &commerce.NotFoundError{Kind: "content", ID: string(bookID)}
	}

	rc, err := s.content.Open(ctx, book.ContentRef)
	if err != nil {
		return nil, nil, err
	}
	s.log.Info("book downloaded", zap.String("user_id", string(userID)), zap.String("book_id", string(bookID)))
	return rc, book, nil
}
