package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/seimmuc/family-tree/backend/internal/graph"
	"github.com/seimmuc/family-tree/backend/internal/media"
	apperrors "github.com/seimmuc/family-tree/backend/pkg/errors"
)

// multipart framing on top of the file itself
const uploadOverhead = 1 << 20

func (s *Server) limitBody(c *gin.Context, files int) {
	limit := s.cfg.MediaMaxUploadBytes*int64(files) + uploadOverhead
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
}

func openUpload(fh *multipart.FileHeader) (multipart.File, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, apperrors.NewMediaRejected("unreadable upload", err)
	}
	return f, nil
}

// POST /api/people/:id/portrait replaces the portrait with the "file" upload
func (s *Server) uploadPortrait(c *gin.Context) {
	id, err := personIDParam(c, "id")
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.limitBody(c, 1)
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, err)
		return
	}
	f, err := openUpload(fh)
	if err != nil {
		s.respondError(c, err)
		return
	}
	defer f.Close()

	up, err := s.media.SavePortrait(id, f)
	if err != nil {
		s.respondError(c, err)
		return
	}

	type swap struct {
		person      *graph.Person
		oldPortrait string
	}
	ctx := c.Request.Context()
	res, err := graph.WriteTx(ctx, s.conn, "set portrait", func(tx neo4j.ManagedTransaction) (swap, error) {
		w := graph.NewPersonWriter(tx)
		existing, err := w.FindByID(ctx, id)
		if err != nil {
			return swap{}, err
		}
		if existing == nil {
			return swap{}, apperrors.NewNotFound("person", id)
		}
		p, err := w.UpdatePerson(ctx, graph.PersonUpdate{ID: id, Portrait: graph.Set(up.Key)}, true)
		return swap{person: p, oldPortrait: existing.Portrait}, err
	})
	if err != nil {
		s.media.DeleteBestEffort(up.Key)
		s.respondError(c, err)
		return
	}

	s.media.DeleteBestEffort(res.oldPortrait)
	s.logger.Info("Portrait updated", zap.String("person_id", id), zap.String("key", up.Key))
	c.JSON(http.StatusOK, gin.H{"person": res.person})
}

// DELETE /api/people/:id/portrait
func (s *Server) deletePortrait(c *gin.Context) {
	id, err := personIDParam(c, "id")
	if err != nil {
		s.respondError(c, err)
		return
	}

	type swap struct {
		person      *graph.Person
		oldPortrait string
	}
	ctx := c.Request.Context()
	res, err := graph.WriteTx(ctx, s.conn, "clear portrait", func(tx neo4j.ManagedTransaction) (swap, error) {
		w := graph.NewPersonWriter(tx)
		existing, err := w.FindByID(ctx, id)
		if err != nil {
			return swap{}, err
		}
		if existing == nil {
			return swap{}, apperrors.NewNotFound("person", id)
		}
		if existing.Portrait == "" {
			return swap{person: existing}, nil
		}
		p, err := w.UpdatePerson(ctx, graph.PersonUpdate{ID: id, Portrait: graph.Null[string]()}, true)
		return swap{person: p, oldPortrait: existing.Portrait}, err
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	s.media.DeleteBestEffort(res.oldPortrait)
	c.JSON(http.StatusOK, gin.H{"person": res.person})
}

// GET /api/people/:id/photos
func (s *Server) listPhotos(c *gin.Context) {
	id, err := personIDParam(c, "id")
	if err != nil {
		s.respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	photos, err := graph.ReadTx(ctx, s.conn, "list photos", func(tx neo4j.ManagedTransaction) ([]graph.Photo, error) {
		return graph.NewPersonReader(tx).GetPersonPhotos(ctx, id)
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"photos": photos})
}

// POST /api/people/:id/photos stores every "files" upload and attaches it
func (s *Server) uploadPhotos(c *gin.Context) {
	id, err := personIDParam(c, "id")
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.limitBody(c, graph.MaxPersonPhotos)
	form, err := c.MultipartForm()
	if err != nil {
		badRequest(c, err)
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		s.respondError(c, apperrors.NewInvalidArgument("files", "no files uploaded"))
		return
	}
	if len(headers) > graph.MaxPersonPhotos {
		s.respondError(c, apperrors.NewInvalidArgument("files", "too many files"))
		return
	}

	items := make([]graph.PhotoData, 0, len(headers))
	saved := make([]string, 0, len(headers))
	for _, fh := range headers {
		up, err := s.savePhoto(id, fh)
		if err != nil {
			s.media.DeleteBestEffort(saved...)
			s.respondError(c, err)
			return
		}
		saved = append(saved, up.Key)
		items = append(items, graph.PhotoData{Hash: up.Hash, Filename: up.Key, Taken: up.Taken})
	}

	ctx := c.Request.Context()
	photos, err := graph.WriteTx(ctx, s.conn, "add photos", func(tx neo4j.ManagedTransaction) ([]graph.Photo, error) {
		return graph.NewPersonWriter(tx).AddPhotos(ctx, id, items)
	})
	if err != nil {
		s.media.DeleteBestEffort(saved...)
		s.respondError(c, err)
		return
	}

	s.logger.Info("Photos added", zap.String("person_id", id), zap.Int("count", len(photos)))
	c.JSON(http.StatusCreated, gin.H{"photos": photos})
}

func (s *Server) savePhoto(personID string, fh *multipart.FileHeader) (*media.Upload, error) {
	f, err := openUpload(fh)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return s.media.SavePhoto(personID, f)
}

// POST /api/people/:id/photos/:photoId/link
func (s *Server) linkPhoto(c *gin.Context) {
	id, err := personIDParam(c, "id")
	if err != nil {
		s.respondError(c, err)
		return
	}
	photoID := c.Param("photoId")
	if validate.Var(photoID, "uuid4") != nil {
		s.respondError(c, apperrors.NewNotFound("photo", photoID))
		return
	}

	ctx := c.Request.Context()
	_, err = graph.WriteTx(ctx, s.conn, "link photo", func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, graph.NewPersonWriter(tx).LinkPhoto(ctx, id, photoID)
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "linked"})
}

// DELETE /api/people/:id/photos detaches photos; files of photos no one
// references anymore are removed afterwards
func (s *Server) deletePhotos(c *gin.Context) {
	id, err := personIDParam(c, "id")
	if err != nil {
		s.respondError(c, err)
		return
	}
	var req photoDeleteRequest
	if err := bindJSON(c.Request.Body, &req); err != nil {
		s.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	deleted, err := graph.WriteTx(ctx, s.conn, "delete photos", func(tx neo4j.ManagedTransaction) (*graph.DeletedPhotos, error) {
		return graph.NewPersonWriter(tx).DeletePhotos(ctx, id, req.selection())
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	s.media.DeleteBestEffort(deleted.OrphanedFiles...)
	c.JSON(http.StatusOK, gin.H{"removed": deleted.IDs})
}

// GET /media/*key streams a stored file
func (s *Server) serveMedia(c *gin.Context) {
	key := media.CleanKey(c.Param("key"))
	rc, info, err := s.media.Store().Open(key)
	if err != nil {
		if errors.Is(err, media.ErrInvalidKey) || errors.Is(err, os.ErrNotExist) {
			s.respondError(c, apperrors.NewNotFound("media", key))
			return
		}
		s.respondError(c, err)
		return
	}
	defer rc.Close()

	c.Header("Cache-Control", "private, max-age=86400")
	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), rs)
		return
	}
	c.DataFromReader(http.StatusOK, info.Size(), "application/octet-stream", rc, nil)
}
