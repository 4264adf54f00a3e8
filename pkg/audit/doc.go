// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-biometrics.
//
// go-biometrics is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

/*
Package audit records every enrollment and authentication attempt.

# Overview

The audit Log is an append-only, capacity-bounded FIFO buffer. When the
buffer is full the oldest event is evicted. Logging never fails; events
with a missing ID or timestamp are completed before they are stored.

# Severity

Failures caused by a security rule (lockout, challenge/type/origin
mismatch, low confidence, liveness, bad signature) are recorded at
SeverityCritical. Benign failures (cancellation, timeout, low sample
quality) are recorded at SeverityNotice so compliance tooling can tell
them apart. Successes are SeverityInfo.

# Sinks

A Log may fan events out to Sinks, for example a structured logger. Sink
errors are swallowed; the in-memory buffer is authoritative.

# Example Usage

	log := audit.NewLog(1000)
	log.Log(ctx, &audit.Event{
	    Type:     audit.TypeAuthentication,
	    Modality: types.ModalityFace,
	    UserID:   "u1",
	    Success:  true,
	})
	events := log.Export()
*/
package audit
