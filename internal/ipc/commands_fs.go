package ipc

import (
	"context"
	"encoding/base64"

	"pkt.systems/cortex/internal/fsbatch"
	"pkt.systems/cortex/schema"
)

func registerFS(r *Router, s *fsbatch.Service) {
	r.Register("batch_commands", typed(func(ctx context.Context, p schema.FSBatchRequest) (schema.FSBatchResponse, error) {
		return s.Batch(ctx, p), nil
	}))
	r.Register("batch_commands_msgpack", typed(func(ctx context.Context, p schema.FSMsgpackParams) (schema.FSMsgpackParams, error) {
		body, err := s.BatchMsgpack(ctx, p.Body)
		if err != nil {
			return schema.FSMsgpackParams{}, err
		}
		return schema.FSMsgpackParams{Body: body}, nil
	}))
	r.Register("batch_cache_invalidate", action(func(_ context.Context, p schema.FSPathParams) error {
		if p.Path == "" {
			return schema.BadArgument("path", "is required")
		}
		s.Invalidate(p.Path)
		return nil
	}))
	r.Register("batch_cache_invalidate_directory", action(func(_ context.Context, p schema.FSPathParams) error {
		if p.Path == "" {
			return schema.BadArgument("path", "is required")
		}
		s.InvalidateDirectory(p.Path)
		return nil
	}))
	r.Register("batch_cache_stats", query(func(context.Context) (schema.FSCacheStats, error) {
		stats := s.Cache().Stats()
		stats.Watches = s.Watches()
		return stats, nil
	}))
	r.Register("batch_cache_clear", action(func(context.Context, struct{}) error {
		s.Cache().Clear()
		return nil
	}))

	r.Register("fs_read_directory", typed(func(_ context.Context, p schema.FSPathParams) ([]schema.DirEntry, error) {
		return s.ReadDir(p.Path)
	}))
	r.Register("fs_write_file", action(func(_ context.Context, p schema.FSWriteParams) error {
		var data []byte
		switch {
		case p.Text != nil && p.Base64 != nil:
			return schema.BadArgument("text", "text and base64 are exclusive")
		case p.Text != nil:
			data = []byte(*p.Text)
		case p.Base64 != nil:
			decoded, err := base64.StdEncoding.DecodeString(*p.Base64)
			if err != nil {
				return schema.BadArgument("base64", "is not valid base64")
			}
			data = decoded
		}
		return s.WriteFile(p.Path, data, p.CreateParents)
	}))
	r.Register("fs_create_directory", action(func(_ context.Context, p schema.FSPathParams) error {
		return s.CreateDirectory(p.Path, p.Recursive)
	}))
	r.Register("fs_delete", action(func(_ context.Context, p schema.FSPathParams) error {
		return s.Delete(p.Path, p.Recursive)
	}))
	r.Register("fs_rename", action(func(_ context.Context, p schema.RenameParams) error {
		return s.Rename(p.From, p.To)
	}))
	r.Register("fs_watch", typed(func(_ context.Context, p schema.FSPathParams) (schema.FSWatchResult, error) {
		root, err := s.Watch(p.Path)
		if err != nil {
			return schema.FSWatchResult{}, err
		}
		return schema.FSWatchResult{Root: root}, nil
	}))
	r.Register("fs_unwatch", action(func(_ context.Context, p schema.FSPathParams) error {
		return s.Unwatch(p.Path)
	}))
}
