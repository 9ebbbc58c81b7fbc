package session

import (
	"context"
	"fmt"
	"net/url"
)

// Page drives one browser tab. Every blocking call honors ctx, including its
// deadline. Close must be safe to call more than once.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	WaitForSelector(ctx context.Context, selector string) error
	// WaitForURL blocks until the current location contains pattern.
	WaitForURL(ctx context.Context, pattern string) error
	Content(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Debuggable is implemented by pages that expose a DevTools WebSocket.
type Debuggable interface {
	DebugURL() string
}

// Launcher starts a fresh browser for a session.
type Launcher interface {
	Launch(ctx context.Context, sessionID string) (Page, error)
}

// Notifier receives the course rooms a user should be added to once their
// rosters were collected.
type Notifier interface {
	AddUserToRooms(ctx context.Context, username string, rooms []string) error
}

// Portal describes the identity provider and LMS pages the session drives.
type Portal struct {
	LoginURL            string
	DashboardURLPattern string
	OverviewURL         string
	// CourseURLTemplate holds exactly one %s for the course ref_id.
	CourseURLTemplate string

	UsernameSelector    string
	PasswordSelector    string
	LoginButtonSelector string
	OTPSelector         string
	OTPSubmitSelector   string
}

// DefaultPortal targets the HHN Keycloak realm and ILIAS instance.
func DefaultPortal() Portal {
	return Portal{
		LoginURL: "https://login.hs-heilbronn.de/realms/hhn/protocol/openid-connect/auth" +
			"?response_mode=form_post&response_type=id_token" +
			"&redirect_uri=https%3A%2F%2Filias.hs-heilbronn.de%2Fopenidconnect.php" +
			"&client_id=hhn_common_ilias&nonce=badc63032679bb541ff44ea53eeccb4e" +
			"&state=2182e131aa3ed4442387157cd1823be0&scope=openid+openid",
		DashboardURLPattern: "ilias.php?baseClass=ilDashboardGUI&cmd=jumpToSelectedItems",
		OverviewURL:         "https://ilias.hs-heilbronn.de/ilias.php?cmdClass=ilmembershipoverviewgui&cmdNode=jr&baseClass=ilmembershipoverviewgui",
		CourseURLTemplate:   "https://ilias.hs-heilbronn.de/ilias.php?baseClass=ilrepositorygui&cmdNode=yc:ml:95&cmdClass=ilCourseMembershipGUI&ref_id=%s",

		UsernameSelector:    `input[name="username"]`,
		PasswordSelector:    `input[name="password"]`,
		LoginButtonSelector: `input[name="login"]`,
		OTPSelector:         `input[name="otp"]`,
		OTPSubmitSelector:   `button[type="submit"]`,
	}
}

// CourseURL builds the member page URL of a course.
func (p Portal) CourseURL(refID string) string {
	return fmt.Sprintf(p.CourseURLTemplate, url.QueryEscape(refID))
}
