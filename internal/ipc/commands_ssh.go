package ipc

import (
	"context"
	"encoding/base64"
	"errors"
	"unicode/utf8"

	"pkt.systems/cortex/internal/credstore"
	"pkt.systems/cortex/internal/persist"
	"pkt.systems/cortex/internal/remote"
	"pkt.systems/cortex/schema"
)

func registerSSH(r *Router, m *remote.Manager) {
	r.Register("ssh_connect", typed(func(ctx context.Context, p schema.SSHConnectParams) (schema.SSHSessionInfo, error) {
		ch := remote.ChannelOptions{Cols: p.Cols, Rows: p.Rows, Env: p.Env}
		var creds *remote.Credentials
		if p.Password != "" || p.Passphrase != "" {
			creds = &remote.Credentials{Password: p.Password, Passphrase: p.Passphrase}
		}
		switch {
		case p.Profile != nil:
			return m.Connect(ctx, remote.ConnectOptions{Profile: *p.Profile, OpenChannel: p.OpenChannel, Channel: ch, Credentials: creds})
		case p.ProfileID != "" && creds == nil:
			return m.ConnectProfile(ctx, p.ProfileID, p.OpenChannel, ch)
		case p.ProfileID != "":
			return schema.SSHSessionInfo{}, schema.BadArgument("password", "inline secrets need an inline profile")
		default:
			return schema.SSHSessionInfo{}, schema.BadArgument("profile", "profile or profileId is required")
		}
	}))
	r.Register("ssh_connect_profile", typed(func(ctx context.Context, p schema.SSHConnectParams) (schema.SSHSessionInfo, error) {
		if p.ProfileID == "" {
			return schema.SSHSessionInfo{}, schema.BadArgument("profileId", "is required")
		}
		return m.ConnectProfile(ctx, p.ProfileID, p.OpenChannel, remote.ChannelOptions{Cols: p.Cols, Rows: p.Rows, Env: p.Env})
	}))
	r.Register("ssh_open_channel", action(func(ctx context.Context, p schema.SSHOpenChannelParams) error {
		return m.OpenChannel(ctx, p.ID, remote.ChannelOptions{Cols: p.Cols, Rows: p.Rows, Env: p.Env})
	}))
	r.Register("ssh_pty_write", action(func(_ context.Context, p schema.WriteParams) error {
		s, err := m.Session(p.ID)
		if err != nil {
			return err
		}
		return s.Write([]byte(p.Data))
	}))
	r.Register("ssh_pty_resize", action(func(_ context.Context, p schema.ResizeParams) error {
		s, err := m.Session(p.ID)
		if err != nil {
			return err
		}
		return s.Resize(p.Cols, p.Rows)
	}))
	r.Register("ssh_pty_ack", action(func(_ context.Context, p schema.AckParams) error {
		if p.Bytes < 0 {
			return schema.BadArgument("bytes", "must not be negative")
		}
		s, err := m.Session(p.ID)
		if err != nil {
			return err
		}
		return s.Ack(p.Bytes)
	}))
	r.Register("ssh_disconnect", action(func(ctx context.Context, p schema.SessionRef) error {
		return m.Disconnect(ctx, p.ID)
	}))
	r.Register("ssh_reconnect", typed(func(ctx context.Context, p schema.SessionRef) (schema.SSHSessionInfo, error) {
		return m.Reconnect(ctx, p.ID)
	}))
	r.Register("ssh_get_session", typed(func(_ context.Context, p schema.SessionRef) (schema.SSHSessionInfo, error) {
		return m.Get(p.ID)
	}))
	r.Register("ssh_list_sessions", query(func(context.Context) ([]schema.SSHSessionInfo, error) {
		return m.List(), nil
	}))
	r.Register("ssh_exec", typed(func(ctx context.Context, p schema.SSHExecParams) (schema.ExecResult, error) {
		if p.Command == "" {
			return schema.ExecResult{}, schema.BadArgument("command", "is required")
		}
		s, err := m.Session(p.ID)
		if err != nil {
			return schema.ExecResult{}, err
		}
		return s.Exec(ctx, p.Command)
	}))
	r.Register("ssh_close_all", query(func(ctx context.Context) (schema.CloseAllResult, error) {
		return schema.CloseAllResult{Closed: m.CloseAll(ctx)}, nil
	}))
	registerSFTP(r, m)
}

func registerSFTP(r *Router, m *remote.Manager) {
	session := func(id schema.SessionID) (*remote.Session, error) {
		if err := requireID(id); err != nil {
			return nil, err
		}
		return m.Session(id)
	}
	r.Register("remote_list_directory", typed(func(ctx context.Context, p schema.RemotePathParams) ([]schema.RemoteEntry, error) {
		s, err := session(p.ID)
		if err != nil {
			return nil, err
		}
		return s.ListDir(ctx, p.Path)
	}))
	r.Register("remote_read_file", typed(func(ctx context.Context, p schema.RemotePathParams) (schema.FileContent, error) {
		s, err := session(p.ID)
		if err != nil {
			return schema.FileContent{}, err
		}
		data, err := s.ReadFile(ctx, p.Path)
		if err != nil {
			return schema.FileContent{}, err
		}
		return fileContent(p.Path, data, p.Binary)
	}))
	r.Register("remote_write_file", action(func(ctx context.Context, p schema.RemoteWriteParams) error {
		s, err := session(p.ID)
		if err != nil {
			return err
		}
		data := []byte(p.Content)
		if p.Base64 {
			if data, err = base64.StdEncoding.DecodeString(p.Content); err != nil {
				return schema.BadArgument("content", "is not valid base64")
			}
		}
		return s.WriteFile(ctx, p.Path, data)
	}))
	r.Register("remote_delete", action(func(ctx context.Context, p schema.RemotePathParams) error {
		s, err := session(p.ID)
		if err != nil {
			return err
		}
		return s.Delete(ctx, p.Path, p.Recursive)
	}))
	r.Register("remote_create_directory", action(func(ctx context.Context, p schema.RemotePathParams) error {
		s, err := session(p.ID)
		if err != nil {
			return err
		}
		return s.CreateDir(ctx, p.Path, p.Recursive)
	}))
	r.Register("remote_rename", action(func(ctx context.Context, p schema.RenameParams) error {
		s, err := session(p.ID)
		if err != nil {
			return err
		}
		return s.Rename(ctx, p.From, p.To)
	}))
	r.Register("remote_stat", typed(func(ctx context.Context, p schema.RemotePathParams) (schema.RemoteEntry, error) {
		s, err := session(p.ID)
		if err != nil {
			return schema.RemoteEntry{}, err
		}
		return s.Stat(ctx, p.Path)
	}))
}

// fileContent renders data as text when asked and valid UTF-8, otherwise as
// base64.
func fileContent(path string, data []byte, binary bool) (schema.FileContent, error) {
	out := schema.FileContent{Path: path}
	if !binary {
		if !utf8.Valid(data) {
			return out, schema.BadArgument("path", "file is not valid UTF-8 text")
		}
		text := string(data)
		out.Text = &text
		return out, nil
	}
	enc := base64.StdEncoding.EncodeToString(data)
	out.Base64 = &enc
	return out, nil
}

func registerProfiles(r *Router, store *persist.Store, secrets credstore.Store) {
	r.Register("ssh_profile_list", query(func(context.Context) ([]schema.SSHProfile, error) {
		out, err := store.Profiles()
		if out == nil && err == nil {
			out = []schema.SSHProfile{}
		}
		return out, err
	}))
	r.Register("ssh_profile_save", typed(func(_ context.Context, p schema.SSHProfileSaveParams) (schema.SSHProfile, error) {
		return saveProfile(store, secrets, p)
	}))
	r.Register("ssh_profile_delete", action(func(_ context.Context, p schema.ProfileRef) error {
		if p.ID == "" {
			return schema.BadArgument("id", "is required")
		}
		if secrets != nil {
			if err := secrets.Delete(p.ID); err != nil {
				return err
			}
		}
		return store.DeleteProfile(p.ID)
	}))
}

// saveProfile persists the profile and moves supplied secrets into the
// credential store. The presence flags are derived, never taken from the
// caller.
func saveProfile(store *persist.Store, secrets credstore.Store, p schema.SSHProfileSaveParams) (schema.SSHProfile, error) {
	profile := p.Profile
	profile.Auth.HasPassword = false
	profile.Auth.HasPassphrase = false
	if profile.ID != "" {
		prev, err := store.Profile(profile.ID)
		switch {
		case err == nil:
			profile.Auth.HasPassword = prev.Auth.HasPassword
			profile.Auth.HasPassphrase = prev.Auth.HasPassphrase
		case !errors.Is(err, schema.ErrNotFound):
			return schema.SSHProfile{}, err
		}
	}
	if (p.Password != "" || p.Passphrase != "") && secrets == nil {
		return schema.SSHProfile{}, schema.Unsupported("credential store")
	}
	if p.Password != "" {
		profile.Auth.HasPassword = true
	}
	if p.Passphrase != "" {
		profile.Auth.HasPassphrase = true
	}
	saved, err := store.SaveProfile(profile)
	if err != nil {
		return schema.SSHProfile{}, err
	}
	if p.Password != "" {
		if err := secrets.Store(saved.ID, credstore.RolePassword, p.Password); err != nil {
			return schema.SSHProfile{}, err
		}
	}
	if p.Passphrase != "" {
		if err := secrets.Store(saved.ID, credstore.RolePassphrase, p.Passphrase); err != nil {
			return schema.SSHProfile{}, err
		}
	}
	return saved, nil
}
