package download

// unknownSizeStep is how many bytes pass between progress reports when the
// declared size is unknown.
const unknownSizeStep = 4 << 20

// progress throttles progress reports to one per step percent (or per
// unknownSizeStep bytes). It is owned by a single download.
type progress struct {
	total int64
	done  int64
	step  int
	last  int
	mark  int64
	emit  func(pct int, done int64)
}

func newProgress(total int64, step int, emit func(int, int64)) *progress {
	return &progress{total: total, step: step, emit: emit}
}

func (p *progress) add(n int64) {
	p.done += n
	if p.total <= 0 {
		if p.done-p.mark >= unknownSizeStep {
			p.mark = p.done
			p.emit(-1, p.done)
		}
		return
	}

	pct := int(p.done * 100 / p.total)
	if pct > 99 {
		// 100 is reserved for the Downloaded update.
		pct = 99
	}
	if pct >= p.last+p.step {
		p.last = pct
		p.emit(pct, p.done)
	}
}
