package graph

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"
)

// ErrConflict is returned when an app is already installed in a chat.
var ErrConflict = errors.New("graph: already exists")

// InstalledApp is a teamsAppInstallation with its expanded app.
type InstalledApp struct {
	ID       string `json:"id"`
	TeamsApp struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName,omitempty"`
	} `json:"teamsApp"`
}

// ListInstalledApps lists the apps installed in a chat.
func (c *Client) ListInstalledApps(ctx context.Context, chatID string) ([]InstalledApp, error) {
	path := "/chats/" + url.PathEscape(chatID) + "/installedApps?$expand=teamsApp"
	return getAll[InstalledApp](ctx, c, path, 5)
}

// IsAppInstalled reports whether catalogAppID is installed in the chat.
func (c *Client) IsAppInstalled(ctx context.Context, chatID, catalogAppID string) (bool, error) {
	apps, err := c.ListInstalledApps(ctx, chatID)
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(apps, func(a InstalledApp) bool {
		return a.TeamsApp.ID == catalogAppID
	}), nil
}

// InstallApp installs a catalog app into a chat. A 409 from Graph is
// reported as ErrConflict.
func (c *Client) InstallApp(ctx context.Context, chatID, catalogAppID string) error {
	body := map[string]string{
		"teamsApp@odata.bind": DefaultBaseURL + "/appCatalogs/teamsApps/" + catalogAppID,
	}
	err := c.Request(ctx, http.MethodPost, "/chats/"+url.PathEscape(chatID)+"/installedApps", body, nil)
	if StatusCode(err) == http.StatusConflict {
		return errors.Join(ErrConflict, err)
	}
	return err
}

// IsUserInGroup checks transitive membership of one group.
func (c *Client) IsUserInGroup(ctx context.Context, userID, groupID string) (bool, error) {
	var resp list[string]
	body := map[string][]string{"groupIds": {groupID}}
	if err := c.Request(ctx, http.MethodPost, "/users/"+url.PathEscape(userID)+"/checkMemberGroups", body, &resp); err != nil {
		return false, err
	}
	return slices.Contains(resp.Value, groupID), nil
}
