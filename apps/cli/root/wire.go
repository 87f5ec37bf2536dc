package root

import (
	"github.com/zenGate-Global/tender-engine/apps/cli/cmd/auth"
	"github.com/zenGate-Global/tender-engine/apps/cli/cmd/ingest"
	"github.com/zenGate-Global/tender-engine/apps/cli/cmd/migrate"
	"github.com/zenGate-Global/tender-engine/apps/cli/cmd/reparse"
)

func init() {
	Root().AddCommand(auth.Command())
	Root().AddCommand(migrate.Command())
	Root().AddCommand(ingest.Command())
	Root().AddCommand(reparse.Command())
}
