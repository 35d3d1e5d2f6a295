// internal/dispatch/facebook.go
package dispatch

import (
	"context"
	"strings"

	"github.com/xkilldash9x/herald/api/schemas"
	"github.com/xkilldash9x/herald/internal/humanoid"
	"github.com/xkilldash9x/herald/internal/resolver"
)

// Facebook labels come in Hungarian first, then English.
var (
	fbComposerTrigger = resolver.Query{Name: "facebook composer trigger", Strategies: []resolver.Strategy{
		resolver.CSS(`[aria-label*="Mi jár a fejedben"]`),
		resolver.CSS(`[aria-label*="What's on your mind"]`),
		resolver.Text("Mi jár a fejedben"),
		resolver.Text("What's on your mind"),
	}}
	fbComposerText = resolver.Query{Name: "facebook composer text", Strategies: []resolver.Strategy{
		resolver.CSS(`div[role="dialog"] [role="textbox"][contenteditable="true"]`),
		resolver.CSS(`[role="textbox"][contenteditable="true"]`),
	}}
	fbComposerDialog = resolver.Query{Name: "facebook composer dialog", Strategies: []resolver.Strategy{
		resolver.CSS(`div[role="dialog"] form`),
		resolver.CSS(`div[role="dialog"]`),
	}}
	fbPostButton = resolver.Query{Name: "facebook post button", Strategies: []resolver.Strategy{
		resolver.CSS(`div[role="dialog"] [aria-label="Közzététel"][role="button"]`),
		resolver.CSS(`div[role="dialog"] [aria-label="Post"][role="button"]`),
		resolver.CSS(`[aria-label="Közzététel"]`),
		resolver.CSS(`[aria-label="Post"]`),
		resolver.XPath(`//div[@role="dialog"]//div[@role="button"][.//span[normalize-space(text())="Közzététel" or normalize-space(text())="Post"]]`),
	}}
	fbLiked = resolver.Query{Name: "facebook liked marker", Strategies: []resolver.Strategy{
		resolver.CSS(`[aria-label="Tetszik eltávolítása"]`),
		resolver.CSS(`[aria-label="Remove Like"]`),
		resolver.CSS(`[aria-label="Tetszik"][aria-pressed="true"]`),
		resolver.CSS(`[aria-label="Like"][aria-pressed="true"]`),
	}}
	fbLike = resolver.Query{Name: "facebook like button", Strategies: []resolver.Strategy{
		resolver.CSS(`[aria-label="Tetszik"][role="button"]`),
		resolver.CSS(`[aria-label="Like"][role="button"]`),
	}}
	fbCommentBox = resolver.Query{Name: "facebook comment box", Strategies: []resolver.Strategy{
		resolver.Label("Írj hozzászólást"),
		resolver.Label("Write a comment"),
		resolver.CSS(`form [role="textbox"][contenteditable="true"]`),
	}}
	fbShareButton = resolver.Query{Name: "facebook share button", Strategies: []resolver.Strategy{
		resolver.CSS(`[aria-label="Küldd el ezt az ismerőseidnek, vagy tedd közzé a profilodon."]`),
		resolver.CSS(`[aria-label="Send this to friends or post it on your profile."]`),
		resolver.Label("Megosztás"),
		resolver.Label("Share"),
	}}
	fbShareNow = resolver.Query{Name: "facebook share now", Strategies: []resolver.Strategy{
		resolver.Text("Megosztás most"),
		resolver.Text("Share now"),
	}}
	fbShareToFeed = resolver.Query{Name: "facebook share to feed", Strategies: []resolver.Strategy{
		resolver.Text("Megosztás a hírfolyamban"),
		resolver.Text("Share to Feed"),
	}}
	fbStorySubmit = resolver.Query{Name: "facebook story submit", Strategies: []resolver.Strategy{
		resolver.Text("Megosztás a történetben"),
		resolver.Text("Share to story"),
		resolver.Label("Share to story"),
	}}
	fbStoryText = resolver.Query{Name: "facebook story text", Strategies: []resolver.Strategy{
		resolver.CSS(`textarea`),
		resolver.CSS(`[contenteditable="true"][role="textbox"]`),
	}}
)

// Facebook publishes and interacts on facebook.com.
type Facebook struct {
	*runner
}

// NewFacebook builds the Facebook dispatcher.
func NewFacebook(env Env) *Facebook {
	f := &Facebook{runner: newRunner(schemas.PlatformFacebook, env)}
	f.actions[schemas.TaskPost] = f.post
	f.actions[schemas.TaskLike] = f.like
	f.actions[schemas.TaskComment] = f.comment
	f.actions[schemas.TaskShare] = f.share
	f.actions[schemas.TaskStory] = f.story
	return f
}

func (f *Facebook) post(ctx context.Context, t schemas.Task) error {
	if strings.TrimSpace(t.Content.Text) == "" && !t.Content.HasMedia() {
		return ErrNothingToPost
	}
	blobs, err := f.fetchMedia(ctx, t.Content)
	if err != nil {
		return err
	}
	if err := f.goTo(ctx, f.platform.BaseURL); err != nil {
		return err
	}
	if err := f.click(ctx, fbComposerTrigger); err != nil {
		return err
	}
	if err := f.pause(ctx, 1000, 2000); err != nil {
		return err
	}
	if t.Content.Text != "" {
		if err := f.typeInto(ctx, fbComposerText, t.Content.Text); err != nil {
			return err
		}
	}
	if len(blobs) > 0 {
		if err := f.attach(ctx, blobs, fbComposerDialog); err != nil {
			return err
		}
	}
	if err := f.pause(ctx, 1000, 2000); err != nil {
		return err
	}
	if err := f.click(ctx, fbPostButton); err != nil {
		return err
	}
	return f.pause(ctx, 3000, 5000)
}

func (f *Facebook) like(ctx context.Context, t schemas.Task) error {
	dest, err := f.target(t)
	if err != nil {
		return err
	}
	return f.toggleOn(ctx, dest, fbLiked, fbLike)
}

func (f *Facebook) comment(ctx context.Context, t schemas.Task) error {
	dest, err := f.target(t)
	if err != nil {
		return err
	}
	if strings.TrimSpace(t.Content.Text) == "" {
		return ErrNothingToPost
	}
	if err := f.goTo(ctx, dest); err != nil {
		return err
	}
	if err := f.typeInto(ctx, fbCommentBox, t.Content.Text); err != nil {
		return err
	}
	if err := f.pause(ctx, 600, 1400); err != nil {
		return err
	}
	if err := f.env.Sim.Press(ctx, humanoid.KeyEnter); err != nil {
		return err
	}
	return f.pause(ctx, 2000, 3500)
}

// share reposts the target. With text it goes through the feed composer so the text is
// attached, otherwise it uses the one-click option.
func (f *Facebook) share(ctx context.Context, t schemas.Task) error {
	dest, err := f.target(t)
	if err != nil {
		return err
	}
	if err := f.goTo(ctx, dest); err != nil {
		return err
	}
	if err := f.click(ctx, fbShareButton); err != nil {
		return err
	}
	if err := f.pause(ctx, 800, 1600); err != nil {
		return err
	}

	if strings.TrimSpace(t.Content.Text) == "" {
		if err := f.click(ctx, fbShareNow); err != nil {
			return err
		}
		return f.pause(ctx, 2000, 3500)
	}

	if err := f.click(ctx, fbShareToFeed); err != nil {
		return err
	}
	if err := f.pause(ctx, 1000, 2000); err != nil {
		return err
	}
	if err := f.typeInto(ctx, fbComposerText, t.Content.Text); err != nil {
		return err
	}
	if err := f.pause(ctx, 800, 1600); err != nil {
		return err
	}
	if err := f.click(ctx, fbPostButton); err != nil {
		return err
	}
	return f.pause(ctx, 3000, 5000)
}

func (f *Facebook) story(ctx context.Context, t schemas.Task) error {
	if err := f.mediaRequired(t); err != nil {
		return err
	}
	blobs, err := f.fetchMedia(ctx, t.Content)
	if err != nil {
		return err
	}
	if err := f.goTo(ctx, f.platform.BaseURL+"/stories/create"); err != nil {
		return err
	}
	if err := f.attach(ctx, blobs, resolver.Query{}); err != nil {
		return err
	}
	if t.Content.Text != "" {
		box, err := f.peek(ctx, fbStoryText)
		if err != nil {
			return err
		}
		// Photo stories have no caption field; text is best effort there.
		if box != nil {
			if err := f.env.Sim.Type(ctx, box, t.Content.Text); err != nil {
				return err
			}
		}
	}
	if err := f.click(ctx, fbStorySubmit); err != nil {
		return err
	}
	return f.pause(ctx, 3000, 5000)
}
