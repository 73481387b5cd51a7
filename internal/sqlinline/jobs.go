package sqlinline

const QInsertUpscaleJob = `--sql 6b5d9d99-b288-4f31-a307-1d50270e56a6
insert into upscale_jobs (id, user_id, result_url, source_url, storage_key, resolution, format, mirror_status, created_at)
values ($1::uuid, $2::text, $3::text, $4::text, $5::text, $6::text, $7::text, $8::text, $9::timestamptz);
`

const QListUpscaleJobsByUser = `--sql 72a8de93-3fce-4ef5-b1ee-74ad26bc2d97
select id::text, user_id, result_url, source_url, storage_key, resolution, format, mirror_status, mirror_attempts, created_at
from upscale_jobs
where user_id = $1::text
order by created_at desc
limit $2::int;
`

const QUpscaleJobStats = `--sql 635693e5-7a5a-466f-a554-ca2e7b24438b
select
    count(*)::int as total,
    count(*) filter (where created_at >= $2::timestamptz)::int as this_month
from upscale_jobs
where user_id = $1::text;
`

const QDeleteUpscaleJob = `--sql 2c323a59-c201-46ad-a211-6e8563f04c79
delete from upscale_jobs
where id = $1::uuid and user_id = $2::text
returning id::text, user_id, result_url, source_url, storage_key, resolution, format, mirror_status, mirror_attempts, created_at;
`

// QClaimPendingMirrors also reclaims rows stuck in 'mirroring' by a worker
// that died mid-copy.
const QClaimPendingMirrors = `--sql 9a15bc35-7ab8-4046-867e-ce1442e60264
with next_jobs as (
    select id
    from upscale_jobs
    where mirror_status = 'pending'
       or (mirror_status = 'mirroring' and updated_at < now() - interval '10 minutes')
    order by created_at asc
    for update skip locked
    limit $1::int
),
updated as (
    update upscale_jobs
    set mirror_status = 'mirroring',
        mirror_attempts = mirror_attempts + 1,
        updated_at = now()
    where id in (select id from next_jobs)
    returning id::text, user_id, result_url, source_url, storage_key, resolution, format, mirror_status, mirror_attempts, created_at
)
select * from updated;
`

const QMarkUpscaleJobMirror = `--sql bf1bc4fd-b1f7-4b72-a271-cc4d3551be42
update upscale_jobs
set mirror_status = $2::text,
    result_url = coalesce(nullif($3::text, ''), result_url),
    storage_key = coalesce(nullif($4::text, ''), storage_key),
    updated_at = now()
where id = $1::uuid;
`
