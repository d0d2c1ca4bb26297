package rabbitmq

import "errors"

var errBadEvent = errors.New("turn event missing owner, session or outcome")
