// internal/dispatch/twitter.go
package dispatch

import (
	"context"
	"strings"

	"github.com/xkilldash9x/herald/api/schemas"
	"github.com/xkilldash9x/herald/internal/media"
	"github.com/xkilldash9x/herald/internal/resolver"
)

// X keeps stable data-testid hooks, so those lead every chain.
var (
	twTextarea = resolver.Query{Name: "twitter compose box", Strategies: []resolver.Strategy{
		resolver.CSS(`[data-testid="tweetTextarea_0"]`),
		resolver.CSS(`[aria-label*="Tweet"][contenteditable="true"]`),
		resolver.CSS(`[aria-label*="Post"][contenteditable="true"]`),
	}}
	twComposeSurface = resolver.Query{Name: "twitter compose surface", Strategies: []resolver.Strategy{
		resolver.CSS(`[data-testid="toolBar"]`),
		resolver.CSS(`div[role="dialog"]`),
	}}
	twPostButton = resolver.Query{Name: "twitter post button", Strategies: []resolver.Strategy{
		resolver.CSS(`[data-testid="tweetButton"]`),
		resolver.CSS(`[data-testid="tweetButtonInline"]`),
		resolver.XPath(`//button[.//span[normalize-space(text())="Közzététel" or normalize-space(text())="Post"]]`),
	}}
	twLiked = resolver.Query{Name: "twitter liked marker", Strategies: []resolver.Strategy{
		resolver.CSS(`article [data-testid="unlike"]`),
	}}
	twLike = resolver.Query{Name: "twitter like button", Strategies: []resolver.Strategy{
		resolver.CSS(`article [data-testid="like"]`),
	}}
	twReply = resolver.Query{Name: "twitter reply button", Strategies: []resolver.Strategy{
		resolver.CSS(`article [data-testid="reply"]`),
	}}
	twReposted = resolver.Query{Name: "twitter reposted marker", Strategies: []resolver.Strategy{
		resolver.CSS(`article [data-testid="unretweet"]`),
	}}
	twRepost = resolver.Query{Name: "twitter repost button", Strategies: []resolver.Strategy{
		resolver.CSS(`article [data-testid="retweet"]`),
	}}
	twRepostConfirm = resolver.Query{Name: "twitter repost confirm", Strategies: []resolver.Strategy{
		resolver.CSS(`[data-testid="retweetConfirm"]`),
		resolver.XPath(`//*[@role="menuitem"][.//span[normalize-space(text())="Újraposztolás" or normalize-space(text())="Repost"]]`),
	}}
)

// Twitter publishes and interacts on x.com. Comments are replies, shares are reposts,
// and there are no stories.
type Twitter struct {
	*runner
}

// NewTwitter builds the X dispatcher.
func NewTwitter(env Env) *Twitter {
	tw := &Twitter{runner: newRunner(schemas.PlatformTwitter, env)}
	tw.actions[schemas.TaskPost] = tw.post
	tw.actions[schemas.TaskLike] = tw.like
	tw.actions[schemas.TaskComment] = tw.reply
	tw.actions[schemas.TaskShare] = tw.repost
	return tw
}

func (tw *Twitter) post(ctx context.Context, t schemas.Task) error {
	if strings.TrimSpace(t.Content.Text) == "" && !t.Content.HasMedia() {
		return ErrNothingToPost
	}
	blobs, err := tw.fetchMedia(ctx, t.Content)
	if err != nil {
		return err
	}
	if err := tw.goTo(ctx, tw.platform.BaseURL+"/compose/post"); err != nil {
		return err
	}
	return tw.compose(ctx, t.Content.Text, blobs)
}

// compose fills whatever compose box is open and submits it.
func (tw *Twitter) compose(ctx context.Context, text string, blobs []media.Blob) error {
	if text != "" {
		if err := tw.typeInto(ctx, twTextarea, text); err != nil {
			return err
		}
	}
	if len(blobs) > 0 {
		if err := tw.attach(ctx, blobs, twComposeSurface); err != nil {
			return err
		}
	}
	if err := tw.pause(ctx, 1000, 2000); err != nil {
		return err
	}
	if err := tw.click(ctx, twPostButton); err != nil {
		return err
	}
	return tw.pause(ctx, 3000, 5000)
}

func (tw *Twitter) like(ctx context.Context, t schemas.Task) error {
	dest, err := tw.target(t)
	if err != nil {
		return err
	}
	return tw.toggleOn(ctx, dest, twLiked, twLike)
}

func (tw *Twitter) reply(ctx context.Context, t schemas.Task) error {
	dest, err := tw.target(t)
	if err != nil {
		return err
	}
	if strings.TrimSpace(t.Content.Text) == "" && !t.Content.HasMedia() {
		return ErrNothingToPost
	}
	blobs, err := tw.fetchMedia(ctx, t.Content)
	if err != nil {
		return err
	}
	if err := tw.goTo(ctx, dest); err != nil {
		return err
	}
	if err := tw.click(ctx, twReply); err != nil {
		return err
	}
	if err := tw.pause(ctx, 800, 1600); err != nil {
		return err
	}
	return tw.compose(ctx, t.Content.Text, blobs)
}

// repost behaves like like: an existing repost is left alone.
func (tw *Twitter) repost(ctx context.Context, t schemas.Task) error {
	dest, err := tw.target(t)
	if err != nil {
		return err
	}
	if err := tw.goTo(ctx, dest); err != nil {
		return err
	}
	done, err := tw.peek(ctx, twReposted)
	if err != nil {
		return err
	}
	if done != nil {
		tw.logger.Info("Already reposted, not clicking.")
		return nil
	}
	if err := tw.click(ctx, twRepost); err != nil {
		return err
	}
	if err := tw.pause(ctx, 500, 1200); err != nil {
		return err
	}
	if err := tw.click(ctx, twRepostConfirm); err != nil {
		return err
	}
	return tw.pause(ctx, 1500, 3000)
}
