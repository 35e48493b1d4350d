package relocate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const folderMIMEType = "application/vnd.google-apps.folder"

// GDrive relocates files inside a Google Drive by re-parenting them, so no
// bytes are transferred. Paths are absolute within the drive, e.g.
// "/Papers2/Articles/A/Abe/paper.pdf".
type GDrive struct {
	svc *drive.Service
	log *slog.Logger

	// Folder ids are stable for a run, so resolved paths are cached.
	folderIDs map[string]string
}

// NewGDrive authenticates against Google Drive and returns a mover.
// credentialsFile holds the OAuth client secrets; tokenFile caches the
// user token between runs. Authentication is two-tier: a cached token is
// refreshed silently, and if the refresh fails to yield a usable session
// the cached token is discarded and the interactive consent flow runs
// again. An error is returned only when no session can be established at
// all.
func NewGDrive(ctx context.Context, credentialsFile, tokenFile string, log *slog.Logger) (*GDrive, error) {
	if log == nil {
		log = slog.Default()
	}

	secrets, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("reading drive credentials: %w", err)
	}
	conf, err := google.ConfigFromJSON(secrets, drive.DriveScope)
	if err != nil {
		return nil, fmt.Errorf("parsing drive credentials: %w", err)
	}

	tok, err := cachedToken(tokenFile)
	if err == nil {
		// Verify the cached token still yields a session; a revoked or
		// expired-beyond-refresh token surfaces here.
		src := conf.TokenSource(ctx, tok)
		if fresh, err := src.Token(); err == nil {
			tok = fresh
		} else {
			log.Warn("cached drive token unusable, re-authenticating", "err", err)
			os.Remove(tokenFile)
			tok = nil
		}
	}
	if tok == nil {
		tok, err = interactiveAuth(ctx, conf)
		if err != nil {
			return nil, fmt.Errorf("drive authentication failed: %w", err)
		}
	}
	if err := saveToken(tokenFile, tok); err != nil {
		log.Warn("could not cache drive token", "path", tokenFile, "err", err)
	}

	svc, err := drive.NewService(ctx, option.WithTokenSource(conf.TokenSource(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("creating drive service: %w", err)
	}

	return &GDrive{svc: svc, log: log, folderIDs: map[string]string{"/": "root", "": "root"}}, nil
}

// Move re-parents the file at fromPath into toPath's directory and renames
// it to toPath's base name. Backend errors resolve to false, never panic.
func (g *GDrive) Move(ctx context.Context, fromPath, toPath string) bool {
	fileID, err := g.resolve(ctx, fromPath, false)
	if err != nil {
		g.log.Error("resolving drive source", "path", fromPath, "err", err)
		return false
	}

	destDir, destName := path.Split(toPath)
	folderID, err := g.resolve(ctx, strings.TrimSuffix(destDir, "/"), true)
	if err != nil {
		g.log.Error("resolving drive destination", "path", destDir, "err", err)
		return false
	}

	file, err := g.svc.Files.Get(fileID).Fields("parents").Context(ctx).Do()
	if err != nil {
		g.log.Error("fetching drive parents", "id", fileID, "err", err)
		return false
	}

	_, err = g.svc.Files.Update(fileID, &drive.File{Name: destName}).
		AddParents(folderID).
		RemoveParents(strings.Join(file.Parents, ",")).
		Fields("id", "parents").
		Context(ctx).
		Do()
	if err != nil {
		g.log.Error("re-parenting drive file", "from", fromPath, "to", toPath, "err", err)
		return false
	}

	g.log.Debug("drive file moved", "from", fromPath, "to", toPath)
	return true
}

// resolve walks a slash-separated drive path to an item id, optionally
// creating missing folders along the way.
func (g *GDrive) resolve(ctx context.Context, p string, createFolders bool) (string, error) {
	p = path.Clean("/" + p)
	if id, ok := g.folderIDs[p]; ok {
		return id, nil
	}

	parentID := "root"
	walked := ""
	for _, segment := range strings.Split(strings.Trim(p, "/"), "/") {
		if segment == "" {
			continue
		}
		walked += "/" + segment
		if id, ok := g.folderIDs[walked]; ok {
			parentID = id
			continue
		}

		id, err := g.lookupChild(ctx, parentID, segment)
		if err != nil {
			return "", err
		}
		if id == "" {
			if !createFolders {
				return "", fmt.Errorf("%s not found", walked)
			}
			created, err := g.svc.Files.Create(&drive.File{
				Name:     segment,
				MimeType: folderMIMEType,
				Parents:  []string{parentID},
			}).Fields("id").Context(ctx).Do()
			if err != nil {
				return "", fmt.Errorf("creating folder %s: %w", walked, err)
			}
			id = created.Id
		}

		g.folderIDs[walked] = id
		parentID = id
	}
	return parentID, nil
}

func (g *GDrive) lookupChild(ctx context.Context, parentID, name string) (string, error) {
	query := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false",
		strings.ReplaceAll(name, "'", `\'`), parentID)
	list, err := g.svc.Files.List().Q(query).Fields("files(id)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("listing %q under %s: %w", name, parentID, err)
	}
	if len(list.Files) == 0 {
		return "", nil
	}
	return list.Files[0].Id, nil
}

func cachedToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// interactiveAuth runs the out-of-band consent flow: print the consent URL
// and read the verification code from stdin.
func interactiveAuth(ctx context.Context, conf *oauth2.Config) (*oauth2.Token, error) {
	url := conf.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Printf("Open the following link in your browser, then paste the authorization code:\n%s\n> ", url)

	var code string
	if _, err := fmt.Scan(&code); err != nil {
		return nil, fmt.Errorf("reading authorization code: %w", err)
	}
	return conf.Exchange(ctx, code)
}
