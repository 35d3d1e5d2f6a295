// internal/dispatch/instagram.go
package dispatch

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/herald/api/schemas"
	"github.com/xkilldash9x/herald/internal/humanoid"
	"github.com/xkilldash9x/herald/internal/resolver"
)

// Icons on instagram.com are SVGs in their own namespace, hence local-name() in the paths.
var (
	igNewPost = resolver.Query{Name: "instagram new post", Strategies: []resolver.Strategy{
		resolver.CSS(`[aria-label="Új bejegyzés"]`),
		resolver.CSS(`[aria-label="New post"]`),
		resolver.XPath(`//*[local-name()="svg"][@aria-label="Új bejegyzés" or @aria-label="New post"]/ancestor::a[1]`),
	}}
	igPostOption = resolver.Query{Name: "instagram post option", Strategies: []resolver.Strategy{
		resolver.XPath(`//a[.//span[normalize-space(text())="Bejegyzés" or normalize-space(text())="Post"]]`),
	}}
	igStoryOption = resolver.Query{Name: "instagram story option", Strategies: []resolver.Strategy{
		resolver.XPath(`//a[.//span[normalize-space(text())="Történet" or normalize-space(text())="Story"]]`),
	}}
	igCreateDialog = resolver.Query{Name: "instagram create dialog", Strategies: []resolver.Strategy{
		resolver.CSS(`div[role="dialog"] [aria-label="Új bejegyzés létrehozása"]`),
		resolver.CSS(`div[role="dialog"] [aria-label="Create new post"]`),
		resolver.CSS(`div[role="dialog"]`),
	}}
	igNext = resolver.Query{Name: "instagram next", Strategies: []resolver.Strategy{
		resolver.XPath(`//div[@role="dialog"]//div[@role="button"][normalize-space(text())="Tovább" or normalize-space(text())="Next"]`),
		resolver.Text("Tovább"),
		resolver.Text("Next"),
	}}
	igCaption = resolver.Query{Name: "instagram caption", Strategies: []resolver.Strategy{
		resolver.CSS(`div[role="dialog"] [aria-label="Írj képaláírást..."]`),
		resolver.CSS(`div[role="dialog"] [aria-label="Write a caption..."]`),
		resolver.CSS(`div[role="dialog"] div[contenteditable="true"][role="textbox"]`),
	}}
	igShare = resolver.Query{Name: "instagram share", Strategies: []resolver.Strategy{
		resolver.XPath(`//div[@role="dialog"]//div[@role="button"][normalize-space(text())="Megosztás" or normalize-space(text())="Share"]`),
		resolver.Text("Megosztás"),
		resolver.Text("Share"),
	}}
	igStoryShare = resolver.Query{Name: "instagram story share", Strategies: []resolver.Strategy{
		resolver.Text("Hozzáadás a történetedhez"),
		resolver.Text("Add to your story"),
		resolver.Text("Share to story"),
	}}
	igLiked = resolver.Query{Name: "instagram liked marker", Strategies: []resolver.Strategy{
		resolver.XPath(`//*[local-name()="svg"][@aria-label="Már nem tetszik" or @aria-label="Unlike"]/ancestor::*[@role="button"][1]`),
		resolver.CSS(`svg[aria-label="Már nem tetszik"]`),
		resolver.CSS(`svg[aria-label="Unlike"]`),
	}}
	igLike = resolver.Query{Name: "instagram like button", Strategies: []resolver.Strategy{
		resolver.XPath(`//section//*[local-name()="svg"][@aria-label="Tetszik" or @aria-label="Like"]/ancestor::*[@role="button"][1]`),
		resolver.CSS(`section svg[aria-label="Tetszik"]`),
		resolver.CSS(`section svg[aria-label="Like"]`),
	}}
	igCommentBox = resolver.Query{Name: "instagram comment box", Strategies: []resolver.Strategy{
		resolver.CSS(`textarea[aria-label="Hozzászólás írása…"]`),
		resolver.CSS(`textarea[aria-label="Add a comment…"]`),
		resolver.CSS(`form textarea`),
	}}
)

// Instagram publishes and interacts on instagram.com. It has no share action.
type Instagram struct {
	*runner
}

// NewInstagram builds the Instagram dispatcher.
func NewInstagram(env Env) *Instagram {
	i := &Instagram{runner: newRunner(schemas.PlatformInstagram, env)}
	i.actions[schemas.TaskPost] = i.post
	i.actions[schemas.TaskLike] = i.like
	i.actions[schemas.TaskComment] = i.comment
	i.actions[schemas.TaskStory] = i.story
	return i
}

// openCreate opens the create flow and, when the menu asks, picks the given option.
func (i *Instagram) openCreate(ctx context.Context, option resolver.Query) error {
	if err := i.goTo(ctx, i.platform.BaseURL); err != nil {
		return err
	}
	if err := i.click(ctx, igNewPost); err != nil {
		return err
	}
	if err := i.pause(ctx, 800, 1600); err != nil {
		return err
	}
	// Newer layouts show a small menu before the dialog.
	el, err := i.peek(ctx, option)
	if err != nil {
		return err
	}
	if el == nil {
		return nil
	}
	if err := i.env.Sim.Click(ctx, el); err != nil {
		return fmt.Errorf("%s: click failed: %w", option.Name, err)
	}
	return i.pause(ctx, 800, 1600)
}

// post needs at least one image; instagram has no text-only posts.
func (i *Instagram) post(ctx context.Context, t schemas.Task) error {
	if err := i.mediaRequired(t); err != nil {
		return err
	}
	blobs, err := i.fetchMedia(ctx, t.Content)
	if err != nil {
		return err
	}
	if err := i.openCreate(ctx, igPostOption); err != nil {
		return err
	}
	if err := i.attach(ctx, blobs, igCreateDialog); err != nil {
		return err
	}
	// Crop, then filters.
	for step := 0; step < 2; step++ {
		if err := i.click(ctx, igNext); err != nil {
			return err
		}
		if err := i.pause(ctx, 900, 1800); err != nil {
			return err
		}
	}
	if t.Content.Text != "" {
		if err := i.typeInto(ctx, igCaption, t.Content.Text); err != nil {
			return err
		}
		if err := i.pause(ctx, 800, 1600); err != nil {
			return err
		}
	}
	if err := i.click(ctx, igShare); err != nil {
		return err
	}
	return i.pause(ctx, 4000, 7000)
}

func (i *Instagram) like(ctx context.Context, t schemas.Task) error {
	dest, err := i.target(t)
	if err != nil {
		return err
	}
	return i.toggleOn(ctx, dest, igLiked, igLike)
}

func (i *Instagram) comment(ctx context.Context, t schemas.Task) error {
	dest, err := i.target(t)
	if err != nil {
		return err
	}
	if t.Content.Text == "" {
		return ErrNothingToPost
	}
	if err := i.goTo(ctx, dest); err != nil {
		return err
	}
	if err := i.typeInto(ctx, igCommentBox, t.Content.Text); err != nil {
		return err
	}
	if err := i.pause(ctx, 600, 1400); err != nil {
		return err
	}
	if err := i.env.Sim.Press(ctx, humanoid.KeyEnter); err != nil {
		return err
	}
	return i.pause(ctx, 2000, 3500)
}

func (i *Instagram) story(ctx context.Context, t schemas.Task) error {
	if err := i.mediaRequired(t); err != nil {
		return err
	}
	blobs, err := i.fetchMedia(ctx, t.Content)
	if err != nil {
		return err
	}
	if err := i.openCreate(ctx, igStoryOption); err != nil {
		return err
	}
	if err := i.attach(ctx, blobs, igCreateDialog); err != nil {
		return err
	}
	if err := i.click(ctx, igStoryShare); err != nil {
		return err
	}
	return i.pause(ctx, 3000, 5000)
}
