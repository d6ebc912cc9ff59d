package providers

import (
	"github.com/smallbiznis/copydesk/internal/providers/email"
	"github.com/smallbiznis/copydesk/internal/providers/pdf"
	"github.com/smallbiznis/copydesk/internal/providers/slack"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
	slack.Module,
)
