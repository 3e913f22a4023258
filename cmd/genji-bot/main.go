// Command genji-bot runs the map submission, playtest and change request
// bot together with its interaction API.
package main

import (
	"go.uber.org/fx"

	"github.com/tbourn/genji-bot/internal/app"
)

func main() {
	fx.New(app.Module).Run()
}
