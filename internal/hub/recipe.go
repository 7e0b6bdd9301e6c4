package hub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/odacrun/odac/internal/models"
)

// recipeRequestTimeout bounds how long the Service Supervisor waits for
// the hub to answer a recipe fetch before giving up on the install.
const recipeRequestTimeout = 15 * time.Second

// FetchRecipe requests the named recipe from the hub and blocks until
// the matching response frame arrives or the request times out.
func (c *Client) FetchRecipe(name string) (models.Recipe, error) {
	action := "recipe.fetch." + name

	ch := make(chan Frame, 1)
	c.pendingMu.Lock()
	c.pending[action+".result"] = ch
	c.pendingMu.Unlock()

	if err := c.send(action, map[string]string{"name": name}); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, action+".result")
		c.pendingMu.Unlock()
		return models.Recipe{}, fmt.Errorf("hub: request recipe %q: %w", name, err)
	}

	select {
	case frame := <-ch:
		var recipe models.Recipe
		if err := json.Unmarshal(frame.Result, &recipe); err != nil {
			return models.Recipe{}, fmt.Errorf("hub: decode recipe %q: %w", name, err)
		}
		return recipe, nil
	case <-time.After(recipeRequestTimeout):
		c.pendingMu.Lock()
		delete(c.pending, action+".result")
		c.pendingMu.Unlock()
		return models.Recipe{}, fmt.Errorf("hub: recipe %q: timed out waiting for hub response", name)
	}
}
