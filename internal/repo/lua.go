package repo

// ScriptCooldown checks and records a per-user cooldown in one step.
// Returns {1, 0} when allowed, {0, remaining_ms} when denied.
const ScriptCooldown = `
-- KEYS[1] = cooldown key
-- ARGV[1] = now_ms
-- ARGV[2] = cooldown_ms

local now      = tonumber(ARGV[1])
local cooldown = tonumber(ARGV[2])

local last = redis.call('GET', KEYS[1])
if last then
  local elapsed = now - tonumber(last)
  if elapsed >= 0 and elapsed < cooldown then
    return {0, cooldown - elapsed}
  end
end

-- the key expires exactly when the cooldown ends
redis.call('SET', KEYS[1], now, 'PX', cooldown)
return {1, 0}
`
