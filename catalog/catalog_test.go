package catalog

import (
	"context"
	"io"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bookstore-engine/commerce"
	"github.com/warp/bookstore-engine/commerce/store"
)

func newTestCatalog(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	ctx := context.Background()

	users := []commerce.User{
		{ID: "robin", Username: "robin", Class: commerce.ClassRestricted},
		{ID: "quinn", Username: "quinn", Class: commerce.ClassPrivileged},
		{ID: "pat", Username: "pat", Class: commerce.ClassPrivileged, RestrictedAccess: true},
	}
	for _, u := range users {
		u.Balance = commerce.ZeroMoney()
		require.NoError(t, mem.CreateUser(ctx, u))
	}
	books := []commerce.Book{
		{ID: "go", Title: "Go", Category: "Programming", Visibility: commerce.VisibilityPublic, ContentRef: "go.pdf"},
		{ID: "dune", Title: "Dune", Category: "fiction", Visibility: commerce.VisibilityPublic},
		{ID: "archive", Title: "Archive", Category: "programming", Visibility: commerce.VisibilityRestricted, ContentRef: "restricted/archive.pdf"},
	}
	for _, b := range books {
		b.Price = commerce.MustParseMoney("10")
		b.Stock = 5
		require.NoError(t, mem.SaveBook(ctx, b))
	}

	content := NewFSContent(fstest.MapFS{
		"go.pdf":                 {Data: []byte("%PDF-go")},
		"restricted/archive.pdf": {Data: []byte("%PDF-archive")},
		"notes.txt":              {Data: []byte("plain")},
	})
	return NewService(mem, content, nil), mem
}

func own(t *testing.T, mem *store.Memory, user, book string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, mem.WithTx(ctx, func(tx commerce.Tx) error {
		return tx.InsertPurchase(ctx, commerce.PurchaseRecord{
			ID: commerce.PurchaseID(user + "-" + book), UserID: commerce.UserID(user), BookID: commerce.BookID(book),
			Quantity: 1, Total: commerce.MustParseMoney("10"),
		})
	}))
}

func ids(books []commerce.Book) []commerce.BookID {
	out := make([]commerce.BookID, 0, len(books))
	for _, b := range books {
		out = append(out, b.ID)
	}
	return out
}

func TestList_HidesRestrictedBooks(t *testing.T) {
	svc, _ := newTestCatalog(t)
	ctx := context.Background()

	books, err := svc.List(ctx, "robin", Filter{})
	require.NoError(t, err)
	assert.Equal(t, []commerce.BookID{"dune", "go"}, ids(books))

	books, err = svc.List(ctx, "quinn", Filter{})
	require.NoError(t, err)
	assert.Equal(t, []commerce.BookID{"archive", "dune", "go"}, ids(books))
}

func TestList_CategoryFilter(t *testing.T) {
	svc, _ := newTestCatalog(t)

	books, err := svc.List(context.Background(), "quinn", Filter{Category: "PROGRAMMING"})

	require.NoError(t, err)
	assert.Equal(t, []commerce.BookID{"archive", "go"}, ids(books))
}

func TestGet_RestrictedLooksMissing(t *testing.T) {
	svc, _ := newTestCatalog(t)
	ctx := context.Background()

	_, err := svc.Get(ctx, "robin", "archive")
	assert.True(t, commerce.IsNotFound(err))

	book, err := svc.Get(ctx, "quinn", "archive")
	require.NoError(t, err)
	assert.Equal(t, "Archive", book.Title)
}

func TestDownload(t *testing.T) {
	svc, mem := newTestCatalog(t)
	ctx := context.Background()
	own(t, mem, "robin", "go")
	own(t, mem, "robin", "dune")
	own(t, mem, "quinn", "archive")
	own(t, mem, "pat", "archive")

	t.Run("purchased public book", func(t *testing.T) {
		rc, book, err := svc.Download(ctx, "robin", "go")
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "%PDF-go", string(data))
		assert.Equal(t, commerce.BookID("go"), book.ID)
	})

	t.Run("not purchased", func(t *testing.T) {
		_, _, err := svc.Download(ctx, "quinn", "go")
		var ae *commerce.AuthorizationError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, "download", ae.Action)
	})

	t.Run("restricted book without grant", func(t *testing.T) {
		_, _, err := svc.Download(ctx, "quinn", "archive")
		assert.ErrorIs(t, err, commerce.ErrForbidden)
	})

	t.Run("restricted book with grant", func(t *testing.T) {
		rc, _, err := svc.Download(ctx, "pat", "archive")
		require.NoError(t, err)
		rc.Close()
	})

	t.Run("book without content", func(t *testing.T) {
		_, _, err := svc.Download(ctx, "robin", "dune")
		assert.True(t, commerce.IsNotFound(err))
	})
}

func TestFSContent_Open(t *testing.T) {
	content := NewFSContent(fstest.MapFS{
		"go.pdf":    {Data: []byte("%PDF")},
		"notes.txt": {Data: []byte("plain")},
	})
	ctx := context.Background()

	rc, err := content.Open(ctx, "../go.pdf")
	require.NoError(t, err, "traversal is cleaned to a path inside the root")
	rc.Close()

	_, err = content.Open(ctx, "notes.txt")
	assert.ErrorIs(t, err, commerce.ErrValidation)

	_, err = content.Open(ctx, "")
	assert.ErrorIs(t, err, commerce.ErrValidation)

	_, err = content.Open(ctx, "missing.pdf")
	assert.True(t, commerce.IsNotFound(err))
}
